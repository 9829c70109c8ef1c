package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/dungeondweller/game/config"
	"github.com/wricardo/dungeondweller/game/dice"
	"github.com/wricardo/dungeondweller/game/room"
	"github.com/wricardo/dungeondweller/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Dungeon Dweller",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Dungeon Dweller - MCP Interface

This is a thin client that proxies all requests to the table server's REST API.

A table is a shared battle map with draggable tokens, live chat and dice.
Players join a table's room over WebSocket; the first player in becomes host
and may kick or unkick others.

AVAILABLE TOOLS:
- create_session: Create a new table, optionally from a preset
- list_sessions: List registered tables
- get_session: Table details with who is in the room, the host and kicked players
- delete_session: Remove a table from the registry
- join_session: Check a table id and get the WebSocket address to join it
- list_presets: List battle map presets
- get_preset: Show a preset's map and starting tokens
- roll_dice: Roll dice with the chat grammar, e.g. 2d6+3 or d20
- table_stats: Counts of tables, rooms, players and connections
- table_instructions: The realtime event protocol players use`),
	)

	c.registerTools()
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new table session with optional preset selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"preset": stringProp("Preset id to use (optional, defaults to 'default')"),
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List registered table sessions, most recently used first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of sessions to return (optional)",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get a table session with its live room state",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session ID to retrieve"),
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_session",
		Description: "Remove a table session from the registry",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session ID to delete"),
			},
			Required: []string{"session_id"},
		},
	}, c.handleDeleteSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join_session",
		Description: "Validate a session ID and get the WebSocket address and room key to join",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session ID (at least 6 characters)"),
			},
			Required: []string{"session_id"},
		},
	}, c.handleJoinSession)

	// Presets
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_presets",
		Description: "List available battle map presets",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListPresets)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_preset",
		Description: "Show a preset's map image and starting tokens",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"preset_id": stringProp("Preset id"),
			},
			Required: []string{"preset_id"},
		},
	}, c.handleGetPreset)

	// Table tools
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "roll_dice",
		Description: "Roll dice. Grammar: [N]dM[+K|-K], e.g. 2d6+3, d20, 4d8-1",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"expression": stringProp("Dice expression, with or without the /roll prefix"),
			},
			Required: []string{"expression"},
		},
	}, c.handleRollDice)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "table_stats",
		Description: "Counts of sessions, rooms, joined players and connections",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "table_instructions",
		Description: "Describe the realtime event protocol used by players",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleInstructions)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func requiredString(args map[string]interface{}, key string) (string, *mcp.CallToolResult) {
	v, _ := args[key].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", mcp.NewToolResultError(key + " is required")
	}
	return v, nil
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	preset, _ := args["preset"].(string)

	body := map[string]string{}
	if preset != "" {
		body["preset"] = preset
	}

	var info service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nPreset: %s\n", info.ID, info.PresetID)
	if info.Preset != nil {
		result += fmt.Sprintf("Map: %s (%d tokens)\n", info.Preset.MapImage, len(info.Preset.Tokens))
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path := "/api/sessions"
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var response struct {
		Count    int                   `json:"count"`
		Total    int                   `json:"total"`
		Sessions []service.SessionInfo `json:"sessions"`
	}

	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Sessions (%d of %d):\n\n", response.Count, response.Total)
	for _, s := range response.Sessions {
		result += fmt.Sprintf("- %s (Preset: %s, Last used: %s)\n",
			s.ID, s.PresetID, s.LastAccessedAt.Format("2006-01-02 15:04:05"))
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errResult := requiredString(arguments(request), "session_id")
	if errResult != nil {
		return errResult, nil
	}

	var info service.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(sessionID), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleDeleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errResult := requiredString(arguments(request), "session_id")
	if errResult != nil {
		return errResult, nil
	}

	var resp map[string]string
	if err := c.apiCall(ctx, "DELETE", "/api/sessions/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(resp["message"]), nil
}

func (c *Client) handleJoinSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errResult := requiredString(arguments(request), "session_id")
	if errResult != nil {
		return errResult, nil
	}

	var join service.JoinInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(sessionID)+"/join", nil, &join); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Room: %s\n", join.Room)
	fmt.Fprintf(&b, "WebSocket: %s\n", join.WebSocket)
	if join.Registered {
		fmt.Fprintf(&b, "Registered session, preset %s\n", join.PresetID)
	} else {
		b.WriteString("Not registered: the room will be created on first join with the default preset\n")
	}
	if join.Snapshot != nil {
		b.WriteString(formatRoom(join.Snapshot))
	}
	fmt.Fprintf(&b, "\nSend: {\"event\":\"%s\",\"data\":{\"username\":\"<name>\",\"room\":\"%s\"}}\n", room.EventJoinRoom, join.Room)

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleListPresets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var presets []config.PresetInfo
	if err := c.apiCall(ctx, "GET", "/api/presets", nil, &presets); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := "Available Presets:\n\n"
	for _, p := range presets {
		result += fmt.Sprintf("• %s (%s)\n  %s\n  Map: %s, Tokens: %d\n\n",
			p.PresetID, p.Name, p.Description, p.MapImage, p.Tokens)
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetPreset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	presetID, errResult := requiredString(arguments(request), "preset_id")
	if errResult != nil {
		return errResult, nil
	}

	var preset config.Preset
	if err := c.apiCall(ctx, "GET", "/api/presets/"+url.PathEscape(presetID), nil, &preset); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatPreset(presetID, &preset)), nil
}

func (c *Client) handleRollDice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, errResult := requiredString(arguments(request), "expression")
	if errResult != nil {
		return errResult, nil
	}

	var roll dice.Result
	if err := c.apiCall(ctx, "POST", "/api/roll", map[string]string{"expression": expression}, &roll); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoll(&roll)), nil
}

func (c *Client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats service.StatsInfo
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Sessions: %d\nRooms: %d\nPlayers: %d\nConnections: %d\n",
		stats.Sessions, stats.Rooms, stats.Members, stats.Connections)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(instructions), nil
}

const instructions = `Dungeon Dweller - Realtime Protocol

Connect to the WebSocket address from join_session. Every frame is JSON:
{"event": "<name>", "data": {...}}

CLIENT EVENTS:
- joinRoom    {"username": "alice", "room": "<session id>"}
- sendMessage {"room": "<id>", "text": "hello"}     text starting with /roll is rolled, e.g. "/roll 2d6+3"
- moveIcon    {"room": "<id>", "iconId": 1, "newPosition": {"left": 10, "top": 20}}
- kickUser    {"room": "<id>", "target": "bob"}     host only
- unkickUser  {"room": "<id>", "target": "bob"}     host only

SERVER EVENTS:
- userList        ["alice", "bob"]      members in join order
- hostAssigned    "alice" or null       the host is always the first member
- kickedUsersList ["mallory"]
- message         {"username", "text", "roll"?}   echoed to the sender too
- iconMoved       {"iconId", "newPosition"}       not sent back to the mover
- kicked          (no data)             you were kicked or are barred from the room
- error           {"event", "message"}  your last frame was rejected

RULES:
- The first player to join an empty room becomes host.
- When the host leaves, the next player in join order becomes host.
- Kicked players are removed and cannot rejoin until the host unkicks them.
- Unkicking does not bring a player back; they must join again.
`

// Formatting helpers

func formatSessionInfo(info *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nPreset: %s\nCreated: %s\nLast used: %s\n",
		info.ID, info.PresetID,
		info.CreatedAt.Format("2006-01-02 15:04:05"),
		info.LastAccessedAt.Format("2006-01-02 15:04:05"))
	if info.Preset != nil {
		fmt.Fprintf(&b, "Map: %s (%d tokens)\n", info.Preset.MapImage, len(info.Preset.Tokens))
	}
	if info.Room == nil {
		b.WriteString("\nNobody has joined this table yet.\n")
	} else {
		b.WriteString("\n" + formatRoom(info.Room))
	}
	return b.String()
}

func formatRoom(snap *room.Snapshot) string {
	var b strings.Builder
	if len(snap.Members) == 0 {
		b.WriteString("Room is empty\n")
	} else {
		fmt.Fprintf(&b, "Players (%d): %s\n", len(snap.Members), strings.Join(snap.Members, ", "))
	}
	if snap.Host != "" {
		fmt.Fprintf(&b, "Host: %s\n", snap.Host)
	}
	if len(snap.Kicked) > 0 {
		fmt.Fprintf(&b, "Kicked: %s\n", strings.Join(snap.Kicked, ", "))
	}
	return b.String()
}

func formatPreset(id string, p *config.Preset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Preset: %s (%s)\n", id, p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n", p.Description)
	}
	fmt.Fprintf(&b, "Map: %s\n\nTokens:\n", p.MapImage)
	for _, tok := range p.Tokens {
		fmt.Fprintf(&b, "  #%d %s at (%d,%d)\n", tok.ID, tok.Alt, tok.Left, tok.Top)
	}
	return b.String()
}

func formatRoll(r *dice.Result) string {
	pips := make([]string, len(r.Pips))
	for i, p := range r.Pips {
		pips[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("🎲 %s: [%s] %+d = %d", r.Expression, strings.Join(pips, ", "), r.Modifier, r.Total)
}
