// Command dungeondweller starts the Dungeon Dweller table server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing REST API, WebSocket rooms, metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Flags control host/port, preset and session directories, sweeps, the
// optional Redis relay, debug logging and optional ngrok tunneling for easy
// external access during development. Every flag can also be set from the
// environment or a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/dungeondweller/api"
	"github.com/wricardo/dungeondweller/game/config"
	"github.com/wricardo/dungeondweller/game/dice"
	"github.com/wricardo/dungeondweller/game/room"
	"github.com/wricardo/dungeondweller/game/service"
	"github.com/wricardo/dungeondweller/game/session"
	"github.com/wricardo/dungeondweller/logging"
	"github.com/wricardo/dungeondweller/metrics"
	"github.com/wricardo/dungeondweller/transport/mcp"
	"github.com/wricardo/dungeondweller/transport/redisbus"
	"github.com/wricardo/dungeondweller/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Dungeon Dweller Table Server"
)

// Sweep intervals
const (
	sessionCleanupInterval = 1 * time.Hour
	roomEvictionInterval   = 1 * time.Minute
	filesystemSyncInterval = 5 * time.Second
	sessionGaugeInterval   = 15 * time.Second
)

// options holds the resolved command line configuration.
type options struct {
	Host        string
	Port        int
	ConfigDir   string
	SessionsDir string
	StaticDir   string
	Debug       bool
	Pretty      bool
	SessionTTL  time.Duration
	RoomIdleTTL time.Duration
	RoomInbox   int
	SendBuffer  int
	RedisAddr   string
	RedisDB     int
	CORSOrigins []string
	Ngrok       bool
	NgrokAuth   string
	NgrokDomain string
	APIURL      string
}

func (o options) addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// flags lists every flag with its environment source.
func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
		&cli.IntFlag{Name: "port", Value: 4000, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.StringFlag{Name: "config-dir", Value: "configs", Usage: "Directory containing table presets", Sources: cli.EnvVars("CONFIG_DIR")},
		&cli.StringFlag{Name: "sessions-dir", Usage: "Directory to persist table sessions (in-memory when empty)", Sources: cli.EnvVars("SESSIONS_DIR")},
		&cli.StringFlag{Name: "static-dir", Usage: "Directory with the built web client to serve at /", Sources: cli.EnvVars("STATIC_DIR")},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging", Sources: cli.EnvVars("DEBUG")},
		&cli.BoolFlag{Name: "pretty", Usage: "Human-readable console logs", Sources: cli.EnvVars("LOG_PRETTY")},
		&cli.DurationFlag{Name: "session-ttl", Value: 24 * time.Hour, Usage: "Remove sessions not used for this long", Sources: cli.EnvVars("SESSION_TTL")},
		&cli.DurationFlag{Name: "room-idle-ttl", Usage: "Evict rooms empty for this long (0 keeps them)", Sources: cli.EnvVars("ROOM_IDLE_TTL")},
		&cli.IntFlag{Name: "room-inbox", Value: room.DefaultInboxSize, Usage: "Queued room operations before callers wait", Sources: cli.EnvVars("ROOM_INBOX")},
		&cli.IntFlag{Name: "ws-send-buffer", Value: websocket.DefaultSendBuffer, Usage: "Outbound frames queued per connection before drops", Sources: cli.EnvVars("WS_SEND_BUFFER")},
		&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for relaying rooms between instances", Sources: cli.EnvVars("REDIS_ADDR")},
		&cli.IntFlag{Name: "redis-db", Usage: "Redis database number", Sources: cli.EnvVars("REDIS_DB")},
		&cli.StringSliceFlag{Name: "cors-origins", Usage: "Allowed browser origins (any when empty)", Sources: cli.EnvVars("CORS_ORIGINS")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
		&cli.StringFlag{Name: "api-url", Value: "http://localhost:4000", Usage: "External API used by stdio-mcp when reachable", Sources: cli.EnvVars("API_URL")},
	}
}

func optionsFrom(cmd *cli.Command) options {
	return options{
		Host:        cmd.String("host"),
		Port:        int(cmd.Int("port")),
		ConfigDir:   cmd.String("config-dir"),
		SessionsDir: cmd.String("sessions-dir"),
		StaticDir:   cmd.String("static-dir"),
		Debug:       cmd.Bool("debug"),
		Pretty:      cmd.Bool("pretty"),
		SessionTTL:  cmd.Duration("session-ttl"),
		RoomIdleTTL: cmd.Duration("room-idle-ttl"),
		RoomInbox:   int(cmd.Int("room-inbox")),
		SendBuffer:  int(cmd.Int("ws-send-buffer")),
		RedisAddr:   cmd.String("redis-addr"),
		RedisDB:     int(cmd.Int("redis-db")),
		CORSOrigins: cmd.StringSlice("cors-origins"),
		Ngrok:       cmd.Bool("ngrok"),
		NgrokAuth:   cmd.String("ngrok-auth"),
		NgrokDomain: cmd.String("ngrok-domain"),
		APIURL:      cmd.String("api-url"),
	}
}

// newCommand builds the CLI. runServer and runStdio are the mode actions.
func newCommand(runServer, runStdio func(context.Context, options) error) *cli.Command {
	serverAction := func(ctx context.Context, cmd *cli.Command) error {
		return runServer(ctx, optionsFrom(cmd))
	}

	return &cli.Command{
		Name:    "dungeondweller",
		Usage:   "realtime battle map, chat and dice rooms for tabletop games",
		Version: Version,
		Flags:   flags(),
		Action:  serverAction,
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with API, WebSocket rooms, metrics and MCP endpoint (default)",
				Action:  serverAction,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server, starting an internal HTTP server when no API is reachable",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runStdio(ctx, optionsFrom(cmd))
				},
			},
		},
	}
}

// main loads .env, parses flags and starts the selected mode.
func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newCommand(
		func(ctx context.Context, opts options) error {
			setupLogging(opts, envErr)
			return runHTTPServer(ctx, opts)
		},
		func(ctx context.Context, opts options) error {
			setupLogging(opts, envErr)
			return runStdioMCPWithInternalServer(ctx, opts)
		},
	)

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func setupLogging(opts options, envErr error) {
	logging.Setup(opts.Debug, opts.Pretty)
	switch {
	case envErr == nil:
		log.Info().Msg("loaded environment variables from .env file")
	case !os.IsNotExist(envErr):
		log.Warn().Err(envErr).Msg("error loading .env file")
	}
	log.Info().Str("version", Version).Msg("starting " + AppName)
}

// services holds everything one server process runs.
type services struct {
	opts        options
	sessions    *session.Manager
	persistence session.SessionPersistence
	presets     *config.Manager
	coord       *room.Coordinator
	hub         *websocket.Hub
	metrics     *metrics.Metrics
	bus         *redisbus.Bus
	game        service.GameService
}

// initializeServices wires the stores, the room coordinator, the relay and
// the table service. Nothing runs until start is called.
func initializeServices(ctx context.Context, opts options) (*services, error) {
	presets, err := config.NewManager(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create preset manager: %w", err)
	}

	s := &services{
		opts:    opts,
		presets: presets,
		metrics: metrics.New(),
	}

	if opts.SessionsDir != "" {
		persistence, err := session.NewFilePersistence(opts.SessionsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create session persistence: %w", err)
		}
		s.persistence = persistence
		s.sessions = session.NewManagerWithPersistence(persistence)

		// Load persisted sessions on startup
		if err := s.sessions.LoadPersistedSessions(); err != nil {
			log.Warn().Err(err).Msg("failed to load persisted sessions")
		}
	} else {
		s.sessions = session.NewManager()
	}

	roller := dice.NewRoller(nil)
	coordOpts := []room.Option{
		room.WithObserver(s.metrics),
		room.WithRoller(roller),
		room.WithJoinHook(s.touchSession),
		room.WithInboxSize(opts.RoomInbox),
	}

	if opts.RedisAddr != "" {
		bus, err := redisbus.NewBus(ctx, opts.RedisAddr, opts.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect relay: %w", err)
		}
		s.bus = bus
		coordOpts = append(coordOpts, room.WithRelay(bus, uuid.NewString()))
	}

	s.coord = room.NewCoordinator(coordOpts...)
	s.hub = websocket.NewHub(s.coord,
		websocket.WithAllowedOrigins(opts.CORSOrigins),
		websocket.WithSendBuffer(opts.SendBuffer),
	)
	s.game = service.NewGameService(s.sessions, s.presets, s.coord, roller)
	s.metrics.SetSessions(s.sessions.Count())

	return s, nil
}

// touchSession refreshes a registered session when someone joins its room.
// It runs on the coordinator goroutine, so the write happens elsewhere.
func (s *services) touchSession(roomKey string) {
	go func() {
		err := s.sessions.UpdateLastAccessed(roomKey)
		if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			log.Warn().Str("room", roomKey).Err(err).Msg("failed to touch session")
		}
	}()
}

// start launches the coordinator, hub, relay and background sweeps. They
// stop when ctx is cancelled; the returned WaitGroup tracks them.
func (s *services) start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { s.coord.Run(ctx) })
	spawn(func() { s.hub.Run(ctx) })

	if s.bus != nil {
		spawn(func() {
			s.bus.Subscribe(ctx, func(msg room.RelayMessage) {
				if err := s.coord.Deliver(ctx, msg); err != nil && !errors.Is(err, room.ErrStopped) {
					log.Warn().Str("room", msg.Room).Err(err).Msg("relay delivery failed")
				}
			})
		})
	}

	spawn(func() { sessionCleanupRoutine(ctx, s.sessions, s.opts.SessionTTL, sessionCleanupInterval) })
	spawn(func() { sessionGaugeRoutine(ctx, s.sessions, s.metrics, sessionGaugeInterval) })
	if s.opts.RoomIdleTTL > 0 {
		spawn(func() { roomEvictionRoutine(ctx, s.coord, s.opts.RoomIdleTTL, roomEvictionInterval) })
	}
	if s.persistence != nil {
		spawn(func() { filesystemSyncRoutine(ctx, s.sessions, s.persistence, filesystemSyncInterval) })
	}

	return &wg
}

func (s *services) close() {
	if s.persistence != nil {
		if err := s.sessions.SaveAllSessions(); err != nil {
			log.Warn().Err(err).Msg("failed to save sessions")
		}
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close relay")
		}
	}
}

// handler builds the API server plus the /mcp endpoint that proxies to baseURL.
func (s *services) handler(baseURL string) http.Handler {
	apiServer := api.NewServer(s.game, s.hub,
		api.WithMetrics(s.metrics),
		api.WithCORSOrigins(s.opts.CORSOrigins),
		api.WithStaticDir(s.opts.StaticDir),
	)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.Handle("/mcp", mcpHandler(mcp.NewClient(baseURL)))
	return mainRouter
}

// mcpHandler serves single MCP JSON-RPC messages over HTTP POST.
func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer starts the HTTP server with REST API, WebSocket hub, and an
// /mcp proxy endpoint. If ngrok is enabled it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, opts options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svcs, err := initializeServices(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer svcs.close()

	background := svcs.start(ctx)

	addr := opts.addr()
	mainRouter := svcs.handler("http://" + addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Info().Str("addr", addr).Msg("HTTP server listening")
		log.Info().Msgf("REST API: http://%s/api", addr)
		log.Info().Msgf("WebSocket: ws://%s/ws", addr)
		log.Info().Msgf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	if opts.Ngrok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrokTunnel(ctx, opts, mainRouter)
		}()
	}

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-serveErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	wg.Wait()
	background.Wait()
	log.Info().Msg("server stopped")
	return err
}

// runNgrokTunnel serves handler through an ngrok tunnel until ctx is done.
func runNgrokTunnel(ctx context.Context, opts options, handler http.Handler) {
	if opts.NgrokAuth == "" {
		log.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return
	}

	log.Info().Msg("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if opts.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(opts.NgrokDomain))
		log.Info().Str("domain", opts.NgrokDomain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(opts.NgrokAuth))
	if err != nil {
		log.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	ngrokURL := tun.URL()
	log.Info().Str("url", ngrokURL).Msg("ngrok tunnel established")
	log.Info().Msgf("  REST API (ngrok): %s/api", ngrokURL)
	log.Info().Msgf("  WebSocket (ngrok): %s/ws", ngrokURL)
	log.Info().Msgf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	if err := srv.Serve(tun); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("ngrok server error")
	}
	log.Info().Msg("ngrok tunnel closed")
}

// sessionCleanupRoutine periodically removes sessions that have not been
// accessed within ttl.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(ttl); removed > 0 {
				log.Info().Int("count", removed).Msg("cleaned up expired sessions")
			}
		}
	}
}

// sessionGaugeRoutine keeps the session gauge in step with the registry.
func sessionGaugeRoutine(ctx context.Context, manager *session.Manager, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetSessions(manager.Count())
		}
	}
}

// roomEvictionRoutine drops rooms that stayed empty for longer than maxIdle.
func roomEvictionRoutine(ctx context.Context, coord *room.Coordinator, maxIdle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := coord.EvictIdle(ctx, maxIdle)
			if err != nil {
				if !errors.Is(err, room.ErrStopped) && ctx.Err() == nil {
					log.Warn().Err(err).Msg("room eviction failed")
				}
				continue
			}
			if removed > 0 {
				log.Info().Int("count", removed).Msg("evicted idle rooms")
			}
		}
	}
}

// filesystemSyncRoutine removes sessions from memory when their files are
// deleted from the sessions directory.
func filesystemSyncRoutine(ctx context.Context, manager *session.Manager, persistence session.SessionPersistence, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := syncWithFilesystem(manager, persistence); pruned > 0 {
				log.Info().Int("count", pruned).Msg("filesystem sync pruned orphaned sessions")
			}
		}
	}
}

func syncWithFilesystem(manager *session.Manager, persistence session.SessionPersistence) int {
	pruned := 0
	for _, sess := range manager.List() {
		if persistence.Exists(sess.ID) {
			continue
		}
		if err := manager.DeleteFromMemory(sess.ID); err == nil {
			pruned++
			log.Debug().Str("session", sess.ID).Msg("pruned session from memory (file deleted)")
		}
	}
	return pruned
}

// apiReachable reports whether a table server answers at baseURL.
func apiReachable(baseURL string) bool {
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(baseURL + "/healthz")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// runStdioMCPWithInternalServer runs an MCP stdio server. It reuses the API
// at --api-url when reachable; otherwise it starts an internal HTTP API on a
// random loopback port and targets that.
func runStdioMCPWithInternalServer(ctx context.Context, opts options) error {
	baseURL := opts.APIURL
	log.Info().Str("url", baseURL).Msg("checking for external API server")

	if apiReachable(baseURL) {
		log.Info().Str("url", baseURL).Msg("external API server found, using it for MCP")
	} else {
		log.Info().Msg("no external API server found, starting internal HTTP server")

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		svcs, err := initializeServices(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		defer svcs.close()
		svcs.start(ctx)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		httpServer := &http.Server{Handler: svcs.handler(baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		defer httpServer.Close()

		log.Info().Str("url", baseURL).Msg("internal HTTP server started for MCP stdio")
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Info().Msg("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
