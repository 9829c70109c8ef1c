package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/wricardo/dungeondweller/game/config"
	"github.com/wricardo/dungeondweller/game/dice"
	"github.com/wricardo/dungeondweller/game/room"
	"github.com/wricardo/dungeondweller/game/service"
	"github.com/wricardo/dungeondweller/game/session"
	"github.com/wricardo/dungeondweller/metrics"
	"github.com/wricardo/dungeondweller/transport/websocket"
)

// MockGameService implements service.GameService for testing
type MockGameService struct {
	// Session Management
	CreateSessionFunc func(ctx context.Context, presetID string) (*service.SessionInfo, error)
	GetSessionFunc    func(ctx context.Context, sessionID string) (*service.SessionInfo, error)
	ListSessionsFunc  func(ctx context.Context) ([]*service.SessionInfo, error)
	DeleteSessionFunc func(ctx context.Context, sessionID string) error
	JoinSessionFunc   func(ctx context.Context, sessionID string) (*service.JoinInfo, error)

	// Presets
	ListPresetsFunc func(ctx context.Context) ([]*config.PresetInfo, error)
	GetPresetFunc   func(ctx context.Context, presetID string) (*config.Preset, error)
	SavePresetFunc  func(ctx context.Context, presetID string, preset *config.Preset) error

	// Table tools
	RollDiceFunc func(ctx context.Context, expression string) (*dice.Result, error)
	StatsFunc    func(ctx context.Context) (*service.StatsInfo, error)
}

// Session Management
func (m *MockGameService) CreateSession(ctx context.Context, presetID string) (*service.SessionInfo, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, presetID)
	}
	return &service.SessionInfo{
		ID:        "test-session",
		PresetID:  presetID,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockGameService) GetSession(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return &service.SessionInfo{
		ID:        sessionID,
		PresetID:  "default",
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockGameService) ListSessions(ctx context.Context) ([]*service.SessionInfo, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx)
	}
	return []*service.SessionInfo{}, nil
}

func (m *MockGameService) DeleteSession(ctx context.Context, sessionID string) error {
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockGameService) JoinSession(ctx context.Context, sessionID string) (*service.JoinInfo, error) {
	if m.JoinSessionFunc != nil {
		return m.JoinSessionFunc(ctx, sessionID)
	}
	return &service.JoinInfo{SessionID: sessionID, Room: sessionID, PresetID: "default"}, nil
}

// Presets
func (m *MockGameService) ListPresets(ctx context.Context) ([]*config.PresetInfo, error) {
	if m.ListPresetsFunc != nil {
		return m.ListPresetsFunc(ctx)
	}
	return []*config.PresetInfo{}, nil
}

func (m *MockGameService) GetPreset(ctx context.Context, presetID string) (*config.Preset, error) {
	if m.GetPresetFunc != nil {
		return m.GetPresetFunc(ctx, presetID)
	}
	return &config.Preset{Name: presetID, MapImage: "/defaultmap1.png"}, nil
}

func (m *MockGameService) SavePreset(ctx context.Context, presetID string, preset *config.Preset) error {
	if m.SavePresetFunc != nil {
		return m.SavePresetFunc(ctx, presetID, preset)
	}
	return nil
}

// Table tools
func (m *MockGameService) RollDice(ctx context.Context, expression string) (*dice.Result, error) {
	if m.RollDiceFunc != nil {
		return m.RollDiceFunc(ctx, expression)
	}
	return &dice.Result{Expression: "1d20+0", Pips: []int{20}, Total: 20}, nil
}

func (m *MockGameService) Stats(ctx context.Context) (*service.StatsInfo, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &service.StatsInfo{}, nil
}

// Test helpers
func setupTestServer(t *testing.T, mockService *MockGameService, opts ...Option) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	coord := room.NewCoordinator()
	go coord.Run(ctx)
	hub := websocket.NewHub(coord)
	go hub.Run(ctx)

	return NewServer(mockService, hub, opts...)
}

func makeRequest(method, path string, body interface{}) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, substr string) {
	t.Helper()
	var resp map[string]string
	parseResponse(t, w, &resp)
	if !strings.Contains(resp["error"], substr) {
		t.Errorf("Expected error containing %q, got %q", substr, resp["error"])
	}
}

// Session Management Tests

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    map[string]string
		setupMock      func(*MockGameService)
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:        "Create session with default preset",
			requestBody: nil,
			setupMock: func(m *MockGameService) {
				m.CreateSessionFunc = func(ctx context.Context, presetID string) (*service.SessionInfo, error) {
					if presetID != "" {
						t.Errorf("Expected empty preset, got %s", presetID)
					}
					return &service.SessionInfo{
						ID:             "0b8a1c7e-table",
						PresetID:       "default",
						CreatedAt:      time.Now(),
						LastAccessedAt: time.Now(),
					}, nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp service.SessionInfo
				parseResponse(t, w, &resp)
				if resp.ID != "0b8a1c7e-table" {
					t.Errorf("Expected session ID 0b8a1c7e-table, got %s", resp.ID)
				}
			},
		},
		{
			name:        "Create session with specific preset",
			requestBody: map[string]string{"preset": "goblin-cave"},
			setupMock: func(m *MockGameService) {
				m.CreateSessionFunc = func(ctx context.Context, presetID string) (*service.SessionInfo, error) {
					if presetID != "goblin-cave" {
						t.Errorf("Expected preset 'goblin-cave', got %s", presetID)
					}
					return &service.SessionInfo{ID: "sess-456", PresetID: presetID}, nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp service.SessionInfo
				parseResponse(t, w, &resp)
				if resp.PresetID != "goblin-cave" {
					t.Errorf("Expected preset 'goblin-cave', got %s", resp.PresetID)
				}
			},
		},
		{
			name:        "Unknown preset",
			requestBody: map[string]string{"preset": "nope"},
			setupMock: func(m *MockGameService) {
				m.CreateSessionFunc = func(ctx context.Context, presetID string) (*service.SessionInfo, error) {
					return nil, fmt.Errorf("%w: 'nope'", config.ErrPresetNotFound)
				}
			},
			expectedStatus: http.StatusNotFound,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				expectError(t, w, "preset not found")
			},
		},
		{
			name:        "Handle service error",
			requestBody: nil,
			setupMock: func(m *MockGameService) {
				m.CreateSessionFunc = func(ctx context.Context, presetID string) (*service.SessionInfo, error) {
					return nil, fmt.Errorf("service error")
				}
			},
			expectedStatus: http.StatusInternalServerError,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				expectError(t, w, "service error")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockGameService{}
			if tt.setupMock != nil {
				tt.setupMock(mockService)
			}

			server := setupTestServer(t, mockService)
			w := httptest.NewRecorder()
			req := makeRequest("POST", "/api/sessions", tt.requestBody)

			server.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fixture := func(ctx context.Context) ([]*service.SessionInfo, error) {
		return []*service.SessionInfo{
			{ID: "table-a", CreatedAt: base, LastAccessedAt: base.Add(3 * time.Hour)},
			{ID: "table-b", CreatedAt: base.Add(time.Hour), LastAccessedAt: base.Add(time.Hour)},
			{ID: "table-c", CreatedAt: base.Add(2 * time.Hour), LastAccessedAt: base.Add(2 * time.Hour)},
		}, nil
	}

	tests := []struct {
		name      string
		query     string
		wantIDs   []string
		wantTotal float64
		wantSort  string
		wantOrder string
	}{
		{"defaults to last accessed, newest first", "", []string{"table-a", "table-c", "table-b"}, 3, "accessed", "desc"},
		{"created ascending", "?sort=created&order=asc", []string{"table-a", "table-b", "table-c"}, 3, "created", "asc"},
		{"created descending with limit", "?sort=created&limit=2", []string{"table-c", "table-b"}, 3, "created", "desc"},
		{"invalid limit ignored", "?limit=abc", []string{"table-a", "table-c", "table-b"}, 3, "accessed", "desc"},
		{"unknown sort falls back", "?sort=name&order=sideways", []string{"table-a", "table-c", "table-b"}, 3, "accessed", "desc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t, &MockGameService{ListSessionsFunc: fixture})
			w := httptest.NewRecorder()
			server.ServeHTTP(w, makeRequest("GET", "/api/sessions"+tt.query, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			var resp struct {
				Count    float64               `json:"count"`
				Total    float64               `json:"total"`
				Sort     string                `json:"sort"`
				Order    string                `json:"order"`
				Sessions []service.SessionInfo `json:"sessions"`
			}
			parseResponse(t, w, &resp)

			if resp.Total != tt.wantTotal || int(resp.Count) != len(tt.wantIDs) {
				t.Errorf("count/total = %v/%v, want %d/%v", resp.Count, resp.Total, len(tt.wantIDs), tt.wantTotal)
			}
			if resp.Sort != tt.wantSort || resp.Order != tt.wantOrder {
				t.Errorf("sort/order = %s/%s, want %s/%s", resp.Sort, resp.Order, tt.wantSort, tt.wantOrder)
			}
			for i, id := range tt.wantIDs {
				if i >= len(resp.Sessions) || resp.Sessions[i].ID != id {
					t.Errorf("Expected session %d to be %s, got %+v", i, id, resp.Sessions)
					break
				}
			}
		})
	}

	t.Run("service error", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{
			ListSessionsFunc: func(ctx context.Context) ([]*service.SessionInfo, error) {
				return nil, fmt.Errorf("registry error")
			},
		})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, makeRequest("GET", "/api/sessions", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Code)
		}
		expectError(t, w, "registry error")
	})
}

func TestGetSession(t *testing.T) {
	tests := []struct {
		name           string
		sessionID      string
		setupMock      func(*MockGameService)
		expectedStatus int
	}{
		{
			name:      "Session with live room",
			sessionID: "table-123",
			setupMock: func(m *MockGameService) {
				m.GetSessionFunc = func(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
					return &service.SessionInfo{
						ID:   sessionID,
						Room: &room.Snapshot{Room: sessionID, Members: []string{"alice"}, Host: "alice", Kicked: []string{}},
					}, nil
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:      "Session not found",
			sessionID: "missing-table",
			setupMock: func(m *MockGameService) {
				m.GetSessionFunc = func(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
					return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrSessionNotFound)
				}
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:      "Coordinator stopped",
			sessionID: "table-123",
			setupMock: func(m *MockGameService) {
				m.GetSessionFunc = func(ctx context.Context, sessionID string) (*service.SessionInfo, error) {
					return nil, fmt.Errorf("failed to read room: %w", room.ErrStopped)
				}
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockGameService{}
			tt.setupMock(mockService)

			server := setupTestServer(t, mockService)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, makeRequest("GET", "/api/sessions/"+tt.sessionID, nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if w.Code == http.StatusOK {
				var resp service.SessionInfo
				parseResponse(t, w, &resp)
				if resp.Room == nil || resp.Room.Host != "alice" {
					t.Errorf("Expected live room in response, got %+v", resp.Room)
				}
			}
		})
	}
}

func TestDeleteSession(t *testing.T) {
	t.Run("Delete existing session", func(t *testing.T) {
		var deleted string
		server := setupTestServer(t, &MockGameService{
			DeleteSessionFunc: func(ctx context.Context, sessionID string) error {
				deleted = sessionID
				return nil
			},
		})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, makeRequest("DELETE", "/api/sessions/table-123", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if deleted != "table-123" {
			t.Errorf("Expected table-123 to be deleted, got %q", deleted)
		}
		var resp map[string]string
		parseResponse(t, w, &resp)
		if resp["message"] != "Session table-123 deleted" {
			t.Errorf("Unexpected message %q", resp["message"])
		}
	})

	t.Run("Delete missing session", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{
			DeleteSessionFunc: func(ctx context.Context, sessionID string) error {
				return session.ErrSessionNotFound
			},
		})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, makeRequest("DELETE", "/api/sessions/missing", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})
}

func TestJoinSession(t *testing.T) {
	joinFunc := func(ctx context.Context, sessionID string) (*service.JoinInfo, error) {
		if err := session.ValidateID(sessionID); err != nil {
			return nil, err
		}
		return &service.JoinInfo{SessionID: sessionID, Room: sessionID, Registered: true, PresetID: "default"}, nil
	}

	tests := []struct {
		name           string
		path           string
		headers        map[string]string
		expectedStatus int
		wantWebSocket  string
	}{
		{"valid id", "/api/sessions/goblin-night/join", nil, http.StatusOK, "ws://example.com/ws"},
		{"behind https proxy", "/api/sessions/goblin-night/join", map[string]string{"X-Forwarded-Proto": "https"}, http.StatusOK, "wss://example.com/ws"},
		{"id too short", "/api/sessions/abc/join", nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t, &MockGameService{JoinSessionFunc: joinFunc})
			w := httptest.NewRecorder()
			req := makeRequest("GET", tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			server.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				expectError(t, w, "invalid session ID")
				return
			}

			var resp service.JoinInfo
			parseResponse(t, w, &resp)
			if resp.WebSocket != tt.wantWebSocket {
				t.Errorf("Expected websocket %s, got %s", tt.wantWebSocket, resp.WebSocket)
			}
			if resp.Room != "goblin-night" || !resp.Registered {
				t.Errorf("Unexpected join info %+v", resp)
			}
		})
	}
}

// Preset Tests

func TestListPresets(t *testing.T) {
	server := setupTestServer(t, &MockGameService{
		ListPresetsFunc: func(ctx context.Context) ([]*config.PresetInfo, error) {
			return []*config.PresetInfo{
				{PresetID: "default", Name: "Default Map", Tokens: 4},
				{PresetID: "goblin-cave", Filename: "goblin-cave.json", Name: "Goblin Cave", Tokens: 2},
			}, nil
		},
	})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, makeRequest("GET", "/api/presets", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp []config.PresetInfo
	parseResponse(t, w, &resp)
	if len(resp) != 2 || resp[1].PresetID != "goblin-cave" {
		t.Errorf("Unexpected presets %+v", resp)
	}
}

func TestGetPreset(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		wantID         string
		expectedStatus int
	}{
		{"by id", "/api/presets/goblin-cave", "goblin-cave", http.StatusOK},
		{"with .json suffix", "/api/presets/goblin-cave.json", "goblin-cave", http.StatusOK},
		{"missing", "/api/presets/nope", "nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t, &MockGameService{
				GetPresetFunc: func(ctx context.Context, presetID string) (*config.Preset, error) {
					if presetID != tt.wantID {
						t.Errorf("Expected preset id %s, got %s", tt.wantID, presetID)
					}
					if presetID == "nope" {
						return nil, config.ErrPresetNotFound
					}
					return &config.Preset{Name: "Goblin Cave", MapImage: "/defaultmap2.png"}, nil
				},
			})
			w := httptest.NewRecorder()
			server.ServeHTTP(w, makeRequest("GET", tt.path, nil))

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestCreatePreset(t *testing.T) {
	validBody := map[string]interface{}{
		"id":        "crypt",
		"name":      "Crypt",
		"map_image": "/defaultmap3.png",
		"tokens": []map[string]interface{}{
			{"id": 1, "src": "/redmarker.png", "alt": "Red Marker", "left": 10, "top": 20},
		},
	}

	t.Run("Save valid preset", func(t *testing.T) {
		var gotID string
		var got *config.Preset
		server := setupTestServer(t, &MockGameService{
			SavePresetFunc: func(ctx context.Context, presetID string, preset *config.Preset) error {
				gotID, got = presetID, preset
				return nil
			},
		})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, makeRequest("POST", "/api/presets", validBody))

		if w.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d", w.Code)
		}
		if gotID != "crypt" || got == nil || got.Name != "Crypt" || len(got.Tokens) != 1 || got.Tokens[0].Top != 20 {
			t.Errorf("Unexpected saved preset %s %+v", gotID, got)
		}
	})

	t.Run("Missing id", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, makeRequest("POST", "/api/presets", map[string]string{"name": "Crypt"}))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
		expectError(t, w, "id is required")
	})

	t.Run("Invalid body", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/presets", strings.NewReader("{"))
		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("Invalid preset", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{
			SavePresetFunc: func(ctx context.Context, presetID string, preset *config.Preset) error {
				return fmt.Errorf("%w: map_image is required", config.ErrInvalidPreset)
			},
		})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, makeRequest("POST", "/api/presets", validBody))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
		expectError(t, w, "map_image is required")
	})
}

// Table Tool Tests

func TestRoll(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		setupMock      func(*MockGameService)
		expectedStatus int
	}{
		{
			name: "Valid expression",
			body: map[string]string{"expression": "2d6+3"},
			setupMock: func(m *MockGameService) {
				m.RollDiceFunc = func(ctx context.Context, expression string) (*dice.Result, error) {
					if expression != "2d6+3" {
						t.Errorf("Expected expression 2d6+3, got %s", expression)
					}
					return &dice.Result{Expression: "2d6+3", Pips: []int{4, 5}, Modifier: 3, Total: 12}, nil
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Invalid expression",
			body: map[string]string{"expression": "banana"},
			setupMock: func(m *MockGameService) {
				m.RollDiceFunc = func(ctx context.Context, expression string) (*dice.Result, error) {
					return nil, dice.ErrInvalidExpression
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Too many dice",
			body: map[string]string{"expression": "1000d6"},
			setupMock: func(m *MockGameService) {
				m.RollDiceFunc = func(ctx context.Context, expression string) (*dice.Result, error) {
					return nil, dice.ErrTooManyDice
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockGameService{}
			tt.setupMock(mockService)

			server := setupTestServer(t, mockService)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, makeRequest("POST", "/api/roll", tt.body))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if w.Code == http.StatusOK {
				var resp dice.Result
				parseResponse(t, w, &resp)
				if resp.Total != 12 || len(resp.Pips) != 2 {
					t.Errorf("Unexpected roll %+v", resp)
				}
			}
		})
	}
}

func TestStats(t *testing.T) {
	server := setupTestServer(t, &MockGameService{
		StatsFunc: func(ctx context.Context) (*service.StatsInfo, error) {
			return &service.StatsInfo{Sessions: 2, Rooms: 1, Members: 3, Connections: 4}, nil
		},
	})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, makeRequest("GET", "/api/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp service.StatsInfo
	parseResponse(t, w, &resp)
	if resp.Members != 3 || resp.Connections != 4 {
		t.Errorf("Unexpected stats %+v", resp)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	server := setupTestServer(t, &MockGameService{}, WithMetrics(metrics.New()))

	w := httptest.NewRecorder()
	server.ServeHTTP(w, makeRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var health map[string]interface{}
	parseResponse(t, w, &health)
	if health["status"] != "healthy" {
		t.Errorf("Unexpected health %+v", health)
	}

	w = httptest.NewRecorder()
	server.ServeHTTP(w, makeRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "dungeondweller_http_request_duration_seconds") {
		t.Error("Expected request latency histogram in metrics output")
	}
}

func TestMetricsDisabled(t *testing.T) {
	server := setupTestServer(t, &MockGameService{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, makeRequest("GET", "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without metrics, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	server := setupTestServer(t, &MockGameService{}, WithCORSOrigins([]string{"http://localhost:3000"}))

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{"allowed origin", "http://localhost:3000", "http://localhost:3000"},
		{"other origin", "http://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := makeRequest("GET", "/api/sessions", nil)
			req.Header.Set("Origin", tt.origin)
			server.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", config.ErrPresetNotFound), http.StatusNotFound},
		{session.ErrSessionAlreadyExists, http.StatusConflict},
		{session.ErrInvalidSessionID, http.StatusBadRequest},
		{config.ErrInvalidPreset, http.StatusBadRequest},
		{dice.ErrInvalidSides, http.StatusBadRequest},
		{room.ErrStopped, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWebSocket(t *testing.T) {
	t.Run("Plain request is rejected", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{})
		w := httptest.NewRecorder()
		server.ServeHTTP(w, httptest.NewRequest("GET", "/ws", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for non-upgrade request, got %d", w.Code)
		}
	})

	t.Run("Join over the router", func(t *testing.T) {
		server := setupTestServer(t, &MockGameService{})
		ts := httptest.NewServer(server)
		defer ts.Close()

		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		defer conn.Close()

		join := map[string]interface{}{
			"event": room.EventJoinRoom,
			"data":  map[string]string{"username": "alice", "room": "goblin-night"},
		}
		if err := conn.WriteJSON(join); err != nil {
			t.Fatalf("Failed to write join: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		if frame.Event != room.EventUserList {
			t.Errorf("Expected first frame %s, got %s", room.EventUserList, frame.Event)
		}
	})
}
