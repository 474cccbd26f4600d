package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agenda-agent/internal/domain"
)

const (
	testHostTenant  = "11111111-aaaa-bbbb-cccc-000000000001"
	testGuestTenant = "22222222-aaaa-bbbb-cccc-000000000002"
)

type fakeStore struct {
	states map[string]domain.ConversationState

	loads     int
	saves     int
	clears    int
	lastSaved domain.ConversationState
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]domain.ConversationState)}
}

func (f *fakeStore) Load(_ context.Context, userID string, _ time.Time) domain.ConversationState {
	f.loads++
	if s, ok := f.states[userID]; ok {
		return s
	}
	return domain.NewConversationState(userID)
}

func (f *fakeStore) Save(_ context.Context, userID string, _ time.Time, state domain.ConversationState) {
	f.saves++
	f.lastSaved = state
	f.states[userID] = state
}

func (f *fakeStore) Clear(_ context.Context, userID string, _ time.Time) {
	f.clears++
	f.states[userID] = domain.NewConversationState(userID)
}

type fakeHubs struct {
	hub      string
	ok       bool
	calls    int
	lastText string
}

func (f *fakeHubs) Resolve(_ context.Context, text string) (string, bool) {
	f.calls++
	f.lastText = text
	return f.hub, f.ok
}

func (f *fakeHubs) DisplayList() string { return "Bengaluru, Mumbai, New Delhi" }

type fakeEngine struct {
	result  domain.WorkflowResult
	err     error
	calls   int
	lastReq domain.WorkflowRequest
}

func (f *fakeEngine) Run(_ context.Context, in domain.WorkflowRequest) (domain.WorkflowResult, error) {
	f.calls++
	f.lastReq = in
	return f.result, f.err
}

type fakeGuard struct{ ok bool }

func (f *fakeGuard) Check(context.Context) bool { return f.ok }

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *fakeStore
	hubs       *fakeHubs
	engine     *fakeEngine
}

func newFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	store := newFakeStore()
	hubs := &fakeHubs{hub: "Mumbai", ok: true}
	engine := &fakeEngine{result: domain.WorkflowResult{
		Reply:  "Here is your agenda draft.",
		Fields: map[string]any{"step": "collect_topics"},
	}}
	d, err := NewDispatcher(
		Config{HostTenantID: testHostTenant, GuestTenantID: testGuestTenant},
		store, hubs, engine, &fakeGuard{ok: true}, nil,
	)
	require.NoError(t, err)
	return &dispatcherFixture{dispatcher: d, store: store, hubs: hubs, engine: engine}
}

func fixedThreadID(t *testing.T, id string) {
	t.Helper()
	prev := newThreadID
	newThreadID = func() string { return id }
	t.Cleanup(func() { newThreadID = prev })
}

func msgActivity(text string) domain.Activity {
	return domain.Activity{
		Type:         domain.ActivityTypeMessage,
		Text:         text,
		From:         &domain.ChannelAccount{ID: "29:user-1", Name: "Alice"},
		Recipient:    &domain.ChannelAccount{ID: "28:bot", Name: "Agenda Bot"},
		Conversation: &domain.ConversationRef{ID: "conv-1", TenantID: testHostTenant},
	}
}

func TestDispatch_RejectsNonMessageActivity(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.dispatcher.Dispatch(context.Background(), domain.Activity{Type: "typing"})

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
}

func TestDispatch_DeniesMissingTenant(t *testing.T) {
	fx := newFixture(t)
	act := msgActivity("hello")
	act.Conversation.TenantID = ""

	out, err := fx.dispatcher.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.Equal(t, OutcomeDenied, out.Outcome)
	require.Equal(t, "**Not Authorized**: no tenant information was found on your message.", out.Reply)

	// Rejection happens before any state or workflow access.
	require.Zero(t, fx.store.loads)
	require.Zero(t, fx.store.saves)
	require.Zero(t, fx.engine.calls)
}

func TestDispatch_DeniesUnknownTenant(t *testing.T) {
	fx := newFixture(t)
	act := msgActivity("hello")
	act.Conversation.TenantID = "99999999-aaaa-bbbb-cccc-000000000009"

	out, err := fx.dispatcher.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.Equal(t, OutcomeDenied, out.Outcome)
	require.Equal(t, "**Access Denied**: your organization is not authorized to use this assistant.", out.Reply)
	require.Zero(t, fx.store.loads)
	require.Zero(t, fx.engine.calls)
}

func TestDispatch_TenantComparisonIsExact(t *testing.T) {
	fx := newFixture(t)

	for _, almost := range []string{
		" " + testHostTenant,
		testHostTenant + " ",
		"11111111-AAAA-BBBB-CCCC-000000000001",
		testHostTenant[:len(testHostTenant)-1],
	} {
		act := msgActivity("hello")
		act.Conversation.TenantID = almost
		out, err := fx.dispatcher.Dispatch(context.Background(), act)
		require.NoError(t, err)
		require.Equal(t, OutcomeDenied, out.Outcome, "tenant %q must not pass", almost)
	}
	require.Zero(t, fx.engine.calls)
}

func TestDispatch_AcceptsGuestTenant(t *testing.T) {
	fx := newFixture(t)
	act := msgActivity("plan a session")
	act.Conversation.TenantID = testGuestTenant

	out, err := fx.dispatcher.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, out.Outcome)
	require.Equal(t, 1, fx.engine.calls)
}

func TestDispatch_TenantFallsBackToChannelData(t *testing.T) {
	fx := newFixture(t)
	act := msgActivity("plan a session")
	act.Conversation.TenantID = ""
	act.ChannelData = &domain.ChannelData{Tenant: &domain.Tenant{ID: testHostTenant}}

	out, err := fx.dispatcher.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, out.Outcome)
}

func TestDispatch_FreshUserWithoutHubIsPrompted(t *testing.T) {
	fx := newFixture(t)
	fx.hubs.ok = false
	fx.hubs.hub = ""

	out, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("I need an agenda"))
	require.NoError(t, err)
	require.Equal(t, OutcomeHubPrompt, out.Outcome)
	require.Equal(t,
		"Before we get started, which Innovation Hub location are you working with today? Supported hubs: Bengaluru, Mumbai, New Delhi.",
		out.Reply,
	)

	// The prompt turn still persists state so the session has a timestamp.
	require.Equal(t, 1, fx.store.saves)
	require.Empty(t, fx.store.lastSaved.HubLocation)
	require.NotEmpty(t, fx.store.lastSaved.LastActivityAt)
	require.Zero(t, fx.engine.calls)
}

func TestDispatch_HubMentionIsCapturedAndMessageStillDelegated(t *testing.T) {
	fx := newFixture(t)
	fixedThreadID(t, "thread-abc")
	fx.hubs.hub = "Mumbai"
	fx.hubs.ok = true

	out, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("Mumbai, book the robotics lab"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, out.Outcome)
	require.Equal(t, "Here is your agenda draft.", out.Reply)

	require.Equal(t, "Mumbai, book the robotics lab", fx.hubs.lastText)
	require.Equal(t, domain.WorkflowRequest{
		UserID:      "29:user-1",
		HubLocation: "Mumbai",
		ThreadID:    "thread-abc",
		Message:     "Mumbai, book the robotics lab",
		Fields:      map[string]any{},
	}, fx.engine.lastReq)

	saved := fx.store.lastSaved
	require.Equal(t, "Mumbai", saved.HubLocation)
	require.Equal(t, "thread-abc", saved.ThreadID)
	require.Equal(t, map[string]any{"step": "collect_topics"}, saved.WorkflowFields)
}

func TestDispatch_KnownHubSkipsResolution(t *testing.T) {
	fx := newFixture(t)
	fx.store.states["29:user-1"] = domain.ConversationState{
		UserID:         "29:user-1",
		HubLocation:    "Bengaluru",
		ThreadID:       "thread-1",
		LastActivityAt: time.Now().UTC().Format(time.RFC3339),
		WorkflowFields: map[string]any{"step": "confirm"},
	}

	_, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("yes, confirm it"))
	require.NoError(t, err)
	require.Zero(t, fx.hubs.calls)
	require.Equal(t, "Bengaluru", fx.engine.lastReq.HubLocation)
	require.Equal(t, "thread-1", fx.engine.lastReq.ThreadID)
	require.Equal(t, map[string]any{"step": "confirm"}, fx.engine.lastReq.Fields)
}

func TestDispatch_RecentSessionKeepsThread(t *testing.T) {
	fx := newFixture(t)
	fx.store.states["29:user-1"] = domain.ConversationState{
		UserID:         "29:user-1",
		HubLocation:    "Mumbai",
		ThreadID:       "thread-old",
		LastActivityAt: time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339),
		WorkflowFields: map[string]any{"step": "confirm"},
	}

	_, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("continue"))
	require.NoError(t, err)
	require.Equal(t, "thread-old", fx.engine.lastReq.ThreadID)
}

func TestDispatch_StaleSessionStartsNewThreadKeepsHub(t *testing.T) {
	fx := newFixture(t)
	fixedThreadID(t, "thread-new")
	fx.store.states["29:user-1"] = domain.ConversationState{
		UserID:         "29:user-1",
		HubLocation:    "Mumbai",
		ThreadID:       "thread-old",
		LastActivityAt: time.Now().UTC().Add(-11 * time.Minute).Format(time.RFC3339),
		WorkflowFields: map[string]any{"step": "confirm", "topics": []any{"robotics"}},
	}

	_, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("hello again"))
	require.NoError(t, err)

	req := fx.engine.lastReq
	require.Equal(t, "thread-new", req.ThreadID, "expired session must not reuse the old thread")
	require.Equal(t, "Mumbai", req.HubLocation, "hub selection survives expiry")
	require.Empty(t, req.Fields, "in-flight task fields are discarded on expiry")
	require.Zero(t, fx.hubs.calls)
}

func TestDispatch_MalformedTimestampCountsAsExpired(t *testing.T) {
	fx := newFixture(t)
	fixedThreadID(t, "thread-new")
	fx.store.states["29:user-1"] = domain.ConversationState{
		UserID:         "29:user-1",
		HubLocation:    "Mumbai",
		ThreadID:       "thread-old",
		LastActivityAt: "yesterday-ish",
		WorkflowFields: map[string]any{},
	}

	_, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("hello"))
	require.NoError(t, err)
	require.Equal(t, "thread-new", fx.engine.lastReq.ThreadID)
}

func TestDispatch_EngineFailureYieldsFixedApology(t *testing.T) {
	fx := newFixture(t)
	fx.engine.err = fmt.Errorf("upstream 500: secret=XYZ internal trace")

	out, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("plan a session"))
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, out.Outcome)
	require.Equal(t, "I encountered an error while processing your request. Please try again or contact support.", out.Reply)
	require.NotContains(t, out.Reply, "secret")
	require.NotContains(t, out.Reply, "XYZ")

	// The turn is still persisted so the session does not look frozen.
	require.Equal(t, 1, fx.store.saves)
	require.NotEmpty(t, fx.store.lastSaved.ThreadID)
}

func TestDispatch_ResetCommandClearsState(t *testing.T) {
	fx := newFixture(t)
	fx.store.states["29:user-1"] = domain.ConversationState{
		UserID:      "29:user-1",
		HubLocation: "Mumbai",
		ThreadID:    "thread-1",
	}

	for _, text := range []string{"reset", "RESET", "  Reset  ", "please clear state now"} {
		out, err := fx.dispatcher.Dispatch(context.Background(), msgActivity(text))
		require.NoError(t, err)
		require.Equal(t, OutcomeReset, out.Outcome, "text=%q", text)
		require.Equal(t, "State cleared! Starting fresh.", out.Reply)
	}
	require.Equal(t, 4, fx.store.clears)
	require.Zero(t, fx.engine.calls)
	require.Empty(t, fx.store.states["29:user-1"].HubLocation)
}

func TestDispatch_EmptyMessageGreetsWithoutDelegation(t *testing.T) {
	fx := newFixture(t)
	fx.store.states["29:user-1"] = domain.ConversationState{
		UserID:         "29:user-1",
		HubLocation:    "Mumbai",
		WorkflowFields: map[string]any{},
	}

	out, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("   "))
	require.NoError(t, err)
	require.Equal(t, OutcomeGreeting, out.Outcome)
	require.Equal(t, "Hello Alice! How can I help you today?", out.Reply)
	require.Zero(t, fx.engine.calls)
	require.Equal(t, 1, fx.store.saves)
}

func TestDispatch_MissingSenderFallsBackToUnknownUser(t *testing.T) {
	fx := newFixture(t)
	act := msgActivity("plan a session")
	act.From = nil

	out, err := fx.dispatcher.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, out.Outcome)
	require.Equal(t, "unknown_user", fx.engine.lastReq.UserID)
}

func TestDispatch_DegradedStoreAppendsNotice(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{result: domain.WorkflowResult{Reply: "Done.", Fields: map[string]any{}}}
	d, err := NewDispatcher(
		Config{HostTenantID: testHostTenant},
		store, &fakeHubs{hub: "Mumbai", ok: true}, engine, &fakeGuard{ok: false}, nil,
	)
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(), msgActivity("plan a session"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, out.Outcome)
	require.Contains(t, out.Reply, "Done.")
	require.Contains(t, out.Reply, "conversation memory is temporarily unavailable")
}

func TestWelcome_NewMember(t *testing.T) {
	fx := newFixture(t)
	act := domain.Activity{
		Type:      domain.ActivityTypeConversationUpdate,
		Recipient: &domain.ChannelAccount{ID: "28:bot"},
		MembersAdded: []domain.ChannelAccount{
			{ID: "29:user-7", Name: "Bob"},
		},
	}

	reply, ok := fx.dispatcher.Welcome(context.Background(), act)
	require.True(t, ok)
	require.Contains(t, reply, "Which Innovation Hub location are you associated with?")
	require.Contains(t, reply, "Bengaluru, Mumbai, New Delhi")
}

func TestWelcome_ReturningMemberWithHub(t *testing.T) {
	fx := newFixture(t)
	fx.store.states["29:user-7"] = domain.ConversationState{
		UserID:      "29:user-7",
		HubLocation: "Bengaluru",
	}
	act := domain.Activity{
		Type:      domain.ActivityTypeConversationUpdate,
		Recipient: &domain.ChannelAccount{ID: "28:bot"},
		MembersAdded: []domain.ChannelAccount{
			{ID: "29:user-7", Name: "Bob"},
		},
	}

	reply, ok := fx.dispatcher.Welcome(context.Background(), act)
	require.True(t, ok)
	require.Equal(t, "Welcome back, Bob from the Bengaluru Innovation Hub! Would you like to prepare an agenda for an Innovation Hub session?", reply)
}

func TestWelcome_BotOnlyUpdateIsIgnored(t *testing.T) {
	fx := newFixture(t)
	act := domain.Activity{
		Type:      domain.ActivityTypeConversationUpdate,
		Recipient: &domain.ChannelAccount{ID: "28:bot"},
		MembersAdded: []domain.ChannelAccount{
			{ID: "28:bot", Name: "Agenda Bot"},
		},
	}

	_, ok := fx.dispatcher.Welcome(context.Background(), act)
	require.False(t, ok)
}

func TestNewDispatcher_Validation(t *testing.T) {
	store := newFakeStore()
	hubs := &fakeHubs{}
	engine := &fakeEngine{}
	g := &fakeGuard{ok: true}
	cfg := Config{HostTenantID: testHostTenant}

	_, err := NewDispatcher(cfg, nil, hubs, engine, g, nil)
	require.Error(t, err)
	_, err = NewDispatcher(cfg, store, nil, engine, g, nil)
	require.Error(t, err)
	_, err = NewDispatcher(cfg, store, hubs, nil, g, nil)
	require.Error(t, err)
	_, err = NewDispatcher(cfg, store, hubs, engine, nil, nil)
	require.Error(t, err)
	_, err = NewDispatcher(Config{}, store, hubs, engine, g, nil)
	require.Error(t, err)
}

func TestMaskTenant(t *testing.T) {
	require.Equal(t, "***", maskTenant(""))
	require.Equal(t, "***", maskTenant("short"))
	require.Equal(t, "11111111***", maskTenant(testHostTenant))
}

func TestDispatch_ConcurrentTurnsForSameUserDoNotRace(t *testing.T) {
	fx := newFixture(t)
	fixedThreadID(t, "thread-abc")

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := fx.dispatcher.Dispatch(context.Background(), msgActivity("plan a session"))
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	require.Equal(t, 8, fx.engine.calls)
}
