package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agenda-agent/internal/domain"
	"agenda-agent/internal/statestore"
)

const (
	defaultStaleAfter        = 10 * time.Minute
	defaultDelegationTimeout = 60 * time.Second

	unknownUserID = "unknown_user"
)

// Fixed user-facing texts. Nothing from internal errors, tenant identifiers,
// or stack traces may ever leak into these.
const (
	deniedNoTenantReply     = "**Not Authorized**: no tenant information was found on your message."
	deniedWrongTenantReply  = "**Access Denied**: your organization is not authorized to use this assistant."
	delegationFailureReply  = "I encountered an error while processing your request. Please try again or contact support."
	stateClearedReply       = "State cleared! Starting fresh."
	degradedPersistenceNote = "\n\n_Note: conversation memory is temporarily unavailable, so I may not remember this exchange later._"
)

// StateStore is the conversation-state persistence consumed by the
// dispatcher. Load never fails (absent or broken records degrade to a fresh
// default); Save absorbs transient failures so a turn is never blocked on
// storage.
type StateStore interface {
	Load(ctx context.Context, userID string, asOf time.Time) domain.ConversationState
	Save(ctx context.Context, userID string, asOf time.Time, state domain.ConversationState)
	Clear(ctx context.Context, userID string, asOf time.Time)
}

// HubResolver maps free text to a configured hub, or reports no match.
type HubResolver interface {
	Resolve(ctx context.Context, text string) (string, bool)
	DisplayList() string
}

// WorkflowEngine is the external multi-agent agenda pipeline.
type WorkflowEngine interface {
	Run(ctx context.Context, in domain.WorkflowRequest) (domain.WorkflowResult, error)
}

// AvailabilityChecker reports whether the durable store is reachable this
// turn; implementations are expected to cache and never fail.
type AvailabilityChecker interface {
	Check(ctx context.Context) bool
}

// Outcome classifies how a turn ended, for logs and tests.
type Outcome string

const (
	OutcomeReplied   Outcome = "replied"
	OutcomeDenied    Outcome = "authorization_denied"
	OutcomeHubPrompt Outcome = "hub_prompt"
	OutcomeFailed    Outcome = "delegation_failed"
	OutcomeReset     Outcome = "state_reset"
	OutcomeGreeting  Outcome = "greeting"
)

// Config carries the dispatcher's tenant allow-list and timing knobs.
type Config struct {
	HostTenantID      string
	GuestTenantID     string
	StaleAfter        time.Duration
	DelegationTimeout time.Duration
}

// TurnOutput is the dispatcher's answer for one inbound message.
type TurnOutput struct {
	Reply   string
	Outcome Outcome
}

// Dispatcher runs the per-turn state machine: tenant authorization, state
// load, staleness reset, hub resolution, workflow delegation, state save.
type Dispatcher struct {
	cfg    Config
	store  StateStore
	hubs   HubResolver
	engine WorkflowEngine
	guard  AvailabilityChecker
	log    *slog.Logger

	turnLocks *keyMutex
}

// NewDispatcher validates dependencies and applies defaults.
func NewDispatcher(cfg Config, store StateStore, hubs HubResolver, engine WorkflowEngine, g AvailabilityChecker, log *slog.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if hubs == nil {
		return nil, errors.New("usecase: hub resolver must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: workflow engine must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: availability checker must not be nil")
	}
	if strings.TrimSpace(cfg.HostTenantID) == "" {
		return nil, errors.New("usecase: host tenant id must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.DelegationTimeout <= 0 {
		cfg.DelegationTimeout = defaultDelegationTimeout
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		hubs:      hubs,
		engine:    engine,
		guard:     g,
		log:       log,
		turnLocks: newKeyMutex(),
	}, nil
}

// Dispatch processes one inbound message activity and returns the reply.
// Conversational rejections (unauthorized tenant, hub prompt, delegation
// apology) are normal TurnOutputs, not errors; an error is only returned for
// a malformed activity the handler should not have forwarded.
func (d *Dispatcher) Dispatch(ctx context.Context, act domain.Activity) (TurnOutput, error) {
	if act.Type != domain.ActivityTypeMessage {
		return TurnOutput{}, newError(ErrorInvalidInput, "not_a_message_activity", nil)
	}

	// Step 1+2: tenant authorization. Rejection short-circuits before any
	// store or model access.
	tenantID := act.TenantID()
	sender := act.SenderName()
	if tenantID == "" {
		d.log.Warn("no tenant claim on inbound message", "user", sender)
		return TurnOutput{Reply: deniedNoTenantReply, Outcome: OutcomeDenied}, nil
	}
	switch tenantID {
	case d.cfg.HostTenantID:
		d.log.Info("sender authorized from host tenant", "user", sender, "tenant", maskTenant(tenantID))
	case d.cfg.GuestTenantID:
		d.log.Info("sender authorized from guest tenant", "user", sender, "tenant", maskTenant(tenantID))
	default:
		d.log.Warn("sender from unauthorized tenant", "user", sender, "tenant", maskTenant(tenantID))
		return TurnOutput{Reply: deniedWrongTenantReply, Outcome: OutcomeDenied}, nil
	}

	userID := act.SenderID()
	if userID == "" {
		userID = unknownUserID
	}

	// Turns for the same user are serialized to avoid a lost update on the
	// shared state record.
	lockKey := statestore.SanitizeID(userID)
	d.turnLocks.lock(lockKey)
	defer d.turnLocks.unlock(lockKey)

	now := time.Now().UTC()
	text := act.Text

	degraded := !d.guard.Check(ctx)
	if degraded {
		d.log.Warn("durable store unavailable, turn proceeds without persistence", "user", sender)
	}

	if isResetCommand(text) {
		d.store.Clear(ctx, userID, now)
		return TurnOutput{Reply: stateClearedReply, Outcome: OutcomeReset}, nil
	}

	// Step 3: load state for (user, current UTC day).
	state := d.store.Load(ctx, userID, now)

	// Step 4: staleness. A malformed timestamp counts as expired; the hub
	// selection survives the reset, only the active task starts over.
	if state.LastActivityAt != "" {
		last, ok := state.LastActivity()
		if !ok || now.Sub(last) > d.cfg.StaleAfter {
			d.log.Info("session expired, starting a new thread", "user", sender, "prior_thread", state.ThreadID)
			state.ResetThread()
		}
	}

	// Step 5: hub resolution, only while no hub is set. The message is not
	// consumed by a successful match; it still flows to the workflow engine.
	if state.HubLocation == "" {
		hub, ok := d.hubs.Resolve(ctx, text)
		if !ok {
			state.Touch(now)
			d.store.Save(ctx, userID, now, state)
			reply := fmt.Sprintf(
				"Before we get started, which Innovation Hub location are you working with today? Supported hubs: %s.",
				d.hubs.DisplayList(),
			)
			return TurnOutput{Reply: withDegradedNote(reply, degraded), Outcome: OutcomeHubPrompt}, nil
		}
		state.HubLocation = hub
		d.log.Info("captured hub location from user input", "user", sender, "hub", hub)
	}

	if strings.TrimSpace(text) == "" {
		state.Touch(now)
		d.store.Save(ctx, userID, now, state)
		reply := fmt.Sprintf("Hello %s! How can I help you today?", sender)
		return TurnOutput{Reply: withDegradedNote(reply, degraded), Outcome: OutcomeGreeting}, nil
	}

	if state.ThreadID == "" {
		state.ThreadID = newThreadID()
		d.log.Info("started new conversation thread", "user", sender, "thread", state.ThreadID)
	}

	// Step 6+7: delegate to the workflow engine. On failure the user gets a
	// fixed apology; the full error stays server-side, and state is still
	// saved so the session does not appear frozen.
	var (
		reply   string
		outcome = OutcomeReplied
	)
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.DelegationTimeout)
	result, err := d.engine.Run(runCtx, domain.WorkflowRequest{
		UserID:      userID,
		HubLocation: state.HubLocation,
		ThreadID:    state.ThreadID,
		Message:     text,
		Fields:      state.WorkflowFields,
	})
	cancel()
	if err != nil {
		d.log.Error("workflow delegation failed", "user", sender, "thread", state.ThreadID, "err", err)
		reply = delegationFailureReply
		outcome = OutcomeFailed
	} else {
		state.WorkflowFields = result.Fields
		reply = result.Reply
	}

	// Step 8: persist and reply.
	state.Touch(now)
	d.store.Save(ctx, userID, now, state)

	return TurnOutput{Reply: withDegradedNote(reply, degraded), Outcome: outcome}, nil
}

// Welcome builds the greeting for members newly added to the conversation.
// ok is false when the update only concerns the bot itself.
func (d *Dispatcher) Welcome(ctx context.Context, act domain.Activity) (string, bool) {
	botID := ""
	if act.Recipient != nil {
		botID = act.Recipient.ID
	}

	for _, member := range act.MembersAdded {
		if member.ID == botID {
			continue
		}
		name := member.Name
		if name == "" {
			name = member.ID
		}
		userID := member.ID
		if userID == "" {
			userID = unknownUserID
		}

		state := d.store.Load(ctx, userID, time.Now().UTC())
		if state.HubLocation != "" {
			return fmt.Sprintf(
				"Welcome back, %s from the %s Innovation Hub! Would you like to prepare an agenda for an Innovation Hub session?",
				name, state.HubLocation,
			), true
		}
		return fmt.Sprintf(
			"Hello! I can help you prepare agendas for Innovation Hub sessions. Which Innovation Hub location are you associated with? Supported hubs: %s.",
			d.hubs.DisplayList(),
		), true
	}
	return "", false
}

func isResetCommand(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	return normalized == "reset" || strings.Contains(normalized, "clear state")
}

func withDegradedNote(reply string, degraded bool) string {
	if !degraded {
		return reply
	}
	return reply + degradedPersistenceNote
}

// maskTenant keeps a short prefix of a tenant identifier for correlation in
// logs without emitting the full value.
func maskTenant(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "***"
}

var newThreadID = func() string {
	return uuid.NewString()
}
