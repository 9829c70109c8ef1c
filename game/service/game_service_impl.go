package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wricardo/dungeondweller/game/config"
	"github.com/wricardo/dungeondweller/game/dice"
	"github.com/wricardo/dungeondweller/game/room"
	"github.com/wricardo/dungeondweller/game/session"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions SessionManager
	presets  PresetManager
	rooms    RoomDirectory
	roller   *dice.Roller
}

// NewGameService creates a new table service. rooms may be nil, in which
// case session reads carry no live room state.
func NewGameService(sessions SessionManager, presets PresetManager, rooms RoomDirectory, roller *dice.Roller) GameService {
	if roller == nil {
		roller = dice.NewRoller(nil)
	}
	return &gameServiceImpl{
		sessions: sessions,
		presets:  presets,
		rooms:    rooms,
		roller:   roller,
	}
}

// CreateSession registers a new table using presetID, or the default
// preset when presetID is empty
func (s *gameServiceImpl) CreateSession(ctx context.Context, presetID string) (*SessionInfo, error) {
	presetID = strings.TrimSuffix(strings.TrimSpace(presetID), ".json")

	var preset *config.Preset
	if presetID != "" {
		var err error
		preset, err = s.presets.LoadPreset(presetID)
		if err != nil {
			if errors.Is(err, config.ErrPresetNotFound) {
				// Provide helpful error message with available options
				if ids := s.presetIDs(); len(ids) > 0 {
					return nil, fmt.Errorf("%w: '%s'. Available presets: %v", config.ErrPresetNotFound, presetID, ids)
				}
				return nil, fmt.Errorf("%w: '%s'. Use /api/presets to list available presets", config.ErrPresetNotFound, presetID)
			}
			return nil, fmt.Errorf("failed to load preset %s: %w", presetID, err)
		}
	} else {
		presetID = config.DefaultPresetID
		preset = s.presets.GetDefault()
	}

	sess, err := s.sessions.Create("", presetID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().Str("module", "service").Str("session", sess.ID).Str("preset", presetID).Msg("session created")

	return &SessionInfo{
		ID:             sess.ID,
		PresetID:       presetID,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		Preset:         preset,
	}, nil
}

// GetSession retrieves session information with the live room snapshot
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	s.sessions.UpdateLastAccessed(sess.ID)

	info := s.info(sess)
	snap, err := s.snapshot(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	info.Room = snap

	return info, nil
}

// ListSessions returns all registered sessions
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))

	for _, sess := range sessions {
		result = append(result, s.info(sess))
	}

	return result, nil
}

// DeleteSession removes a session from the registry. Its room, if anyone
// is in it, stays alive until the last member leaves.
func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	log.Info().Str("module", "service").Str("session", sessionID).Msg("session deleted")
	return nil
}

// JoinSession validates a session ID for joining. Unregistered IDs are
// allowed since rooms are created on first join.
func (s *gameServiceImpl) JoinSession(ctx context.Context, sessionID string) (*JoinInfo, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}

	join := &JoinInfo{
		SessionID: sessionID,
		Room:      sessionID,
		PresetID:  config.DefaultPresetID,
	}

	sess, err := s.sessions.Get(sessionID)
	switch {
	case err == nil:
		s.sessions.UpdateLastAccessed(sess.ID)
		join.SessionID = sess.ID
		join.Room = sess.ID
		join.Registered = true
		join.PresetID = presetOrDefault(sess.Preset)
		join.Preset = s.preset(sess.Preset)
	case errors.Is(err, session.ErrSessionNotFound):
		join.Preset = s.presets.GetDefault()
	default:
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	snap, err := s.snapshot(ctx, join.Room)
	if err != nil {
		return nil, err
	}
	join.Snapshot = snap

	return join, nil
}

// ListPresets returns every available preset
func (s *gameServiceImpl) ListPresets(ctx context.Context) ([]*config.PresetInfo, error) {
	return s.presets.ListPresets()
}

// GetPreset loads a preset by id
func (s *gameServiceImpl) GetPreset(ctx context.Context, presetID string) (*config.Preset, error) {
	return s.presets.LoadPreset(presetID)
}

// SavePreset validates and stores a preset
func (s *gameServiceImpl) SavePreset(ctx context.Context, presetID string, preset *config.Preset) error {
	if err := s.presets.SavePreset(presetID, preset); err != nil {
		return err
	}
	log.Info().Str("module", "service").Str("preset", presetID).Msg("preset saved")
	return nil
}

// RollDice evaluates a dice expression such as "2d6+1" or "/roll d20"
func (s *gameServiceImpl) RollDice(ctx context.Context, expression string) (*dice.Result, error) {
	return s.roller.Roll(expression)
}

// Stats reports session and room counts
func (s *gameServiceImpl) Stats(ctx context.Context) (*StatsInfo, error) {
	stats := &StatsInfo{Sessions: s.sessions.Count()}
	if s.rooms == nil {
		return stats, nil
	}

	st, err := s.rooms.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read room stats: %w", err)
	}
	stats.Rooms = st.Rooms
	stats.Members = st.Members
	stats.Connections = st.Connections
	return stats, nil
}

func (s *gameServiceImpl) info(sess *session.Session) *SessionInfo {
	return &SessionInfo{
		ID:             sess.ID,
		PresetID:       presetOrDefault(sess.Preset),
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		Preset:         s.preset(sess.Preset),
	}
}

// preset resolves a session's preset, falling back to the default when the
// file has since been removed or broken.
func (s *gameServiceImpl) preset(id string) *config.Preset {
	if id == "" || id == config.DefaultPresetID {
		return s.presets.GetDefault()
	}
	p, err := s.presets.LoadPreset(id)
	if err != nil {
		log.Warn().Str("module", "service").Str("preset", id).Err(err).Msg("session preset unavailable, using default")
		return s.presets.GetDefault()
	}
	return p
}

func (s *gameServiceImpl) snapshot(ctx context.Context, roomKey string) (*room.Snapshot, error) {
	if s.rooms == nil {
		return nil, nil
	}
	snap, ok, err := s.rooms.Snapshot(ctx, roomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read room %s: %w", roomKey, err)
	}
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *gameServiceImpl) presetIDs() []string {
	available, err := s.presets.ListPresets()
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(available))
	for _, p := range available {
		ids = append(ids, p.PresetID)
	}
	return ids
}

func presetOrDefault(id string) string {
	if id == "" {
		return config.DefaultPresetID
	}
	return id
}
