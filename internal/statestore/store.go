package statestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"agenda-agent/internal/domain"
)

// Blob is the minimal byte-level storage contract the state manager needs.
// Absence is a normal outcome (ok=false), never an error. Ping reports
// whether the backing store is currently reachable.
type Blob interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte) error
	Ping(ctx context.Context) error
}

// Manager persists ConversationState records keyed by (user, UTC day) with
// defined-if-absent semantics: a missing, malformed, or unreachable record
// never fails a turn, it only resets the session.
type Manager struct {
	blob Blob
	log  *slog.Logger
}

// NewManager creates a Manager over the given blob driver.
func NewManager(blob Blob, log *slog.Logger) (*Manager, error) {
	if blob == nil {
		return nil, ErrInvalidConfig
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{blob: blob, log: log}, nil
}

// StateKey derives the storage key for a user on a given day:
// conversations/YYYYMMDD/<sanitized user>_state.
func StateKey(userID string, asOf time.Time) string {
	return "conversations/" + asOf.UTC().Format("20060102") + "/" + SanitizeID(userID) + "_state"
}

// SanitizeID maps an arbitrary source identifier to a store-safe key segment.
// Every rune outside [A-Za-z0-9_-] becomes an underscore, so display names
// containing slashes, pipes, unicode or control characters cannot escape the
// key namespace.
func SanitizeID(id string) string {
	out := make([]byte, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Load returns the stored state for (userID, asOf), or a fresh default when
// the record is absent, unparseable, or the store is unreachable.
func (m *Manager) Load(ctx context.Context, userID string, asOf time.Time) domain.ConversationState {
	key := StateKey(userID, asOf)

	data, ok, err := m.blob.Get(ctx, key)
	if err != nil {
		m.log.Warn("state load failed, using default state", "key", key, "err", err)
		return domain.NewConversationState(userID)
	}
	if !ok {
		m.log.Debug("no state record found, using default state", "key", key)
		return domain.NewConversationState(userID)
	}

	var state domain.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		m.log.Warn("state record malformed, using default state", "key", key, "err", err)
		return domain.NewConversationState(userID)
	}
	if state.UserID == "" {
		state.UserID = userID
	}
	if state.WorkflowFields == nil {
		state.WorkflowFields = map[string]any{}
	}
	return state
}

// Save overwrites the record for (userID, asOf). Failures are logged and
// swallowed: losing one turn's persistence is preferable to blocking the
// user's reply on a storage error. No synchronous retry is attempted.
func (m *Manager) Save(ctx context.Context, userID string, asOf time.Time, state domain.ConversationState) {
	key := StateKey(userID, asOf)

	data, err := json.Marshal(state)
	if err != nil {
		m.log.Error("state encode failed, state not persisted", "key", key, "err", err)
		return
	}
	if err := m.blob.Put(ctx, key, data); err != nil {
		m.log.Error("state save failed, state not persisted", "key", key, "err", err)
	}
}

// Clear overwrites the record for (userID, asOf) with a fresh default state.
func (m *Manager) Clear(ctx context.Context, userID string, asOf time.Time) {
	m.Save(ctx, userID, asOf, domain.NewConversationState(userID))
}
