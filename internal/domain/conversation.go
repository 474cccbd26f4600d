package domain

import "time"

// ConversationState is one user's ongoing interaction, persisted per
// (user, UTC day). WorkflowFields is opaque to the dispatcher: it is carried
// verbatim between the store and the workflow engine.
type ConversationState struct {
	UserID         string         `json:"user_id"`
	HubLocation    string         `json:"hub_location,omitempty"`
	ThreadID       string         `json:"thread_id,omitempty"`
	LastActivityAt string         `json:"last_activity_at,omitempty"`
	WorkflowFields map[string]any `json:"workflow_fields"`
}

// NewConversationState returns the default state for a previously-unseen
// (user, day) key: hub unset, no thread, empty fields.
func NewConversationState(userID string) ConversationState {
	return ConversationState{
		UserID:         userID,
		WorkflowFields: map[string]any{},
	}
}

// LastActivity parses the stored activity timestamp. ok is false when the
// value is absent or malformed; callers treat that the same as expired.
func (s ConversationState) LastActivity() (time.Time, bool) {
	if s.LastActivityAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.LastActivityAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Touch records now as the most recent turn.
func (s *ConversationState) Touch(now time.Time) {
	s.LastActivityAt = now.UTC().Format(time.RFC3339)
}

// ResetThread expires the active task: the thread id is cleared and the
// accumulated fields return to their initial empty state. The hub selection
// is sticky and survives the reset.
func (s *ConversationState) ResetThread() {
	s.ThreadID = ""
	s.WorkflowFields = map[string]any{}
}
