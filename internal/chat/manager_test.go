package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unizar-ia/thesis-assistant-client/internal/api"
	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
)

// ----- Fake backend -----

type fakeChatAPI struct {
	mu sync.Mutex

	listConvs []domain.Conversation
	listErr   error

	createTitles []string
	createResp   *domain.Conversation
	createErr    error

	// getGate, when set for an id, blocks GetConversation until closed.
	// getStarted signals that the blocked call has begun.
	getGate    map[string]chan struct{}
	getStarted chan string
	getResp    map[string]*api.ConversationDetails
	getErr     error

	msgsResp map[string][]domain.Message

	askConvID   string
	askQuestion string
	askOpts     api.AskOptions
	askResult   *api.AskResult
	askErr      error

	feedbackMsgID   string
	feedbackRating  int
	feedbackComment string
	feedbackErr     error

	deletedID string
	deleteErr error
}

func (f *fakeChatAPI) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	return f.listConvs, f.listErr
}

func (f *fakeChatAPI) CreateConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	f.mu.Lock()
	f.createTitles = append(f.createTitles, title)
	f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createResp != nil {
		return f.createResp, nil
	}
	return &domain.Conversation{ID: "new-conv", Title: title}, nil
}

func (f *fakeChatAPI) GetConversation(ctx context.Context, id string) (*api.ConversationDetails, error) {
	if f.getStarted != nil {
		f.getStarted <- id
	}
	if gate, ok := f.getGate[id]; ok {
		<-gate
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	if d, ok := f.getResp[id]; ok {
		return d, nil
	}
	return &api.ConversationDetails{Conversation: domain.Conversation{ID: id}}, nil
}

func (f *fakeChatAPI) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return f.msgsResp[conversationID], nil
}

func (f *fakeChatAPI) Ask(ctx context.Context, conversationID, question string, opts api.AskOptions) (*api.AskResult, error) {
	f.mu.Lock()
	f.askConvID, f.askQuestion, f.askOpts = conversationID, question, opts
	f.mu.Unlock()
	return f.askResult, f.askErr
}

func (f *fakeChatAPI) LeaveFeedback(ctx context.Context, messageID string, rating int, comment string) error {
	f.feedbackMsgID, f.feedbackRating, f.feedbackComment = messageID, rating, comment
	return f.feedbackErr
}

func (f *fakeChatAPI) DeleteConversation(ctx context.Context, id string) error {
	f.deletedID = id
	return f.deleteErr
}

// ----- Fake cache -----

type fakeCache struct {
	mu       sync.Mutex
	replaced []domain.Conversation
	cached   []domain.Conversation
}

func (f *fakeCache) ReplaceConversations(ctx context.Context, convs []domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = convs
	return nil
}

func (f *fakeCache) CachedConversations(ctx context.Context) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached, nil
}

func newTestChatManager(a *fakeChatAPI, c ConversationCache) *Manager {
	return NewManager(Options{
		API:   a,
		Cache: c,
		Identity: func() *domain.Identity {
			return &domain.Identity{ID: "u1", DisplayName: "Ana"}
		},
		Logger: zerolog.Nop(),
	})
}

// waitUntil polls the manager until cond holds or the deadline passes.
func waitUntil(t *testing.T, m *Manager, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := m.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached; last state: sending=%v loading=%v err=%q msgs=%d",
				snap.IsSending, snap.IsLoadingMessages, snap.Err, len(snap.Messages))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ----- Tests -----

func TestLoadConversations_ReplacesListAndCaches(t *testing.T) {
	a := &fakeChatAPI{listConvs: []domain.Conversation{{ID: "c1"}, {ID: "c2"}}}
	cache := &fakeCache{}
	m := newTestChatManager(a, cache)

	m.LoadConversations(context.Background())

	snap := m.Snapshot()
	if snap.IsLoading || snap.Err != "" {
		t.Fatalf("state = %+v", snap)
	}
	if len(snap.Conversations) != 2 || snap.Conversations[0].ID != "c1" {
		t.Fatalf("conversations = %+v", snap.Conversations)
	}
	if len(cache.replaced) != 2 {
		t.Fatalf("cache not refreshed: %+v", cache.replaced)
	}
}

func TestLoadConversations_ErrorKeepsOldList(t *testing.T) {
	a := &fakeChatAPI{listConvs: []domain.Conversation{{ID: "c1"}}}
	m := newTestChatManager(a, nil)
	m.LoadConversations(context.Background())

	a.listErr = &api.Error{Code: api.CodeNetworkError, Message: "offline"}
	m.LoadConversations(context.Background())

	snap := m.Snapshot()
	if snap.Err != "offline" {
		t.Fatalf("Err = %q", snap.Err)
	}
	if len(snap.Conversations) != 1 {
		t.Fatalf("previous list lost: %+v", snap.Conversations)
	}
}

func TestPrimeFromCache_OnlySeedsEmptyList(t *testing.T) {
	cache := &fakeCache{cached: []domain.Conversation{{ID: "cached-1"}}}
	m := newTestChatManager(&fakeChatAPI{}, cache)

	m.PrimeFromCache(context.Background())
	if got := m.Snapshot().Conversations; len(got) != 1 || got[0].ID != "cached-1" {
		t.Fatalf("conversations = %+v", got)
	}

	cache.cached = []domain.Conversation{{ID: "cached-2"}}
	m.PrimeFromCache(context.Background())
	if got := m.Snapshot().Conversations; got[0].ID != "cached-1" {
		t.Fatalf("non-empty list overwritten: %+v", got)
	}
}

func TestLoadConversation_AppliesBothFetches(t *testing.T) {
	a := &fakeChatAPI{
		getResp: map[string]*api.ConversationDetails{
			"c1": {Conversation: domain.Conversation{ID: "c1", Title: "T"}},
		},
		msgsResp: map[string][]domain.Message{
			"c1": {{ID: "m1", Sender: domain.SenderUser}, {ID: "m2", Sender: domain.SenderBot}},
		},
	}
	m := newTestChatManager(a, nil)

	m.LoadConversation(context.Background(), "c1")

	snap := m.Snapshot()
	if snap.IsLoadingMessages || snap.Err != "" {
		t.Fatalf("state = %+v", snap)
	}
	if snap.Current == nil || snap.Current.ID != "c1" {
		t.Fatalf("current = %+v", snap.Current)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %+v", snap.Messages)
	}
}

func TestLoadConversation_StaleResponseDiscarded(t *testing.T) {
	gate := make(chan struct{})
	a := &fakeChatAPI{
		getGate:    map[string]chan struct{}{"c1": gate},
		getStarted: make(chan string, 2),
		msgsResp: map[string][]domain.Message{
			"c1": {{ID: "old-1"}},
			"c2": {{ID: "new-1"}},
		},
	}
	m := newTestChatManager(a, nil)

	done := make(chan struct{})
	go func() {
		m.LoadConversation(context.Background(), "c1")
		close(done)
	}()
	<-a.getStarted // c1 fetch is in flight

	m.LoadConversation(context.Background(), "c2")
	<-a.getStarted // drain c2's signal

	close(gate) // now the stale c1 response lands
	<-done

	snap := m.Snapshot()
	if snap.Current == nil || snap.Current.ID != "c2" {
		t.Fatalf("stale load overwrote selection: %+v", snap.Current)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "new-1" {
		t.Fatalf("stale messages applied: %+v", snap.Messages)
	}
	if snap.IsLoadingMessages {
		t.Fatalf("loading flag stuck")
	}
}

func TestCreateConversation_PrependsAndDedups(t *testing.T) {
	a := &fakeChatAPI{
		listConvs:  []domain.Conversation{{ID: "c1"}, {ID: "c2"}},
		createResp: &domain.Conversation{ID: "c1", Title: "again"},
	}
	m := newTestChatManager(a, nil)
	m.LoadConversations(context.Background())

	if _, err := m.CreateConversation(context.Background(), "again"); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got := m.Snapshot().Conversations
	if len(got) != 2 || got[0].ID != "c1" || got[0].Title != "again" || got[1].ID != "c2" {
		t.Fatalf("conversations = %+v", got)
	}
}

func TestSendMessage_OptimisticThenReconciled(t *testing.T) {
	a := &fakeChatAPI{
		askResult: &api.AskResult{
			User: domain.Message{ID: "m-user", ConversationID: "c1", Sender: domain.SenderUser, Content: "hola"},
			Bot:  domain.Message{ID: "m-bot", ConversationID: "c1", Sender: domain.SenderBot, Content: "respuesta"},
		},
	}
	m := newTestChatManager(a, nil)
	m.LoadConversation(context.Background(), "c1")

	updates, cancel := m.Subscribe()
	defer cancel()

	id, err := m.SendMessage(context.Background(), "hola", "c1")
	if err != nil || id != "c1" {
		t.Fatalf("SendMessage = %q, %v", id, err)
	}

	snap := waitUntil(t, m, func(s State) bool { return !s.IsSending })
	if len(snap.Messages) != 2 || snap.Messages[0].ID != "m-user" || snap.Messages[1].ID != "m-bot" {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	for _, msg := range snap.Messages {
		if domain.IsTempID(msg.ID) {
			t.Fatalf("temp message survived reconciliation: %+v", msg)
		}
	}
	if !a.askOpts.Evaluate {
		t.Fatalf("evaluation not requested")
	}

	// Every observed state holds either the temp message or the canonical
	// pair, never both.
	for {
		select {
		case s := <-updates:
			var temp, canonical bool
			for _, msg := range s.Messages {
				if domain.IsTempID(msg.ID) && msg.Sender == domain.SenderUser {
					temp = true
				}
				if msg.ID == "m-user" {
					canonical = true
				}
			}
			if temp && canonical {
				t.Fatalf("temp and canonical user message coexist: %+v", s.Messages)
			}
		default:
			return
		}
	}
}

func TestSendMessage_OptimisticInsertIsImmediate(t *testing.T) {
	a := &fakeChatAPI{askErr: &api.Error{Code: api.CodeNetworkError, Message: "offline"}}
	m := newTestChatManager(a, nil)
	m.LoadConversation(context.Background(), "c1")

	if _, err := m.SendMessage(context.Background(), "hola", "c1"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The optimistic message is visible before reconciliation finishes.
	snap := m.Snapshot()
	found := false
	for _, msg := range snap.Messages {
		if domain.IsTempID(msg.ID) && msg.Sender == domain.SenderUser && msg.Content == "hola" {
			found = true
			if msg.User == nil || msg.User.DisplayName != "Ana" {
				t.Fatalf("identity not stamped: %+v", msg.User)
			}
		}
	}
	if !found {
		t.Fatalf("optimistic message missing: %+v", snap.Messages)
	}
}

func TestSendMessage_NoConversationCreatesOne(t *testing.T) {
	longQuestion := strings.Repeat("¿", 30) + strings.Repeat("q", 40)
	a := &fakeChatAPI{
		createResp: &domain.Conversation{ID: "fresh"},
		askResult: &api.AskResult{
			User: domain.Message{ID: "m-user", ConversationID: "fresh", Sender: domain.SenderUser},
			Bot:  domain.Message{ID: "m-bot", ConversationID: "fresh", Sender: domain.SenderBot},
		},
	}
	m := newTestChatManager(a, nil)

	id, err := m.SendMessage(context.Background(), longQuestion, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "fresh" {
		t.Fatalf("returned id = %q", id)
	}

	a.mu.Lock()
	title := a.createTitles[0]
	a.mu.Unlock()
	if !strings.HasSuffix(title, "...") {
		t.Fatalf("long title not ellipsized: %q", title)
	}
	if got := len([]rune(title)); got != 53 {
		t.Fatalf("title length = %d runes (%q)", got, title)
	}

	if got := m.Snapshot().Conversations; len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("conversation not prepended: %+v", got)
	}

	snap := waitUntil(t, m, func(s State) bool { return !s.IsSending })
	if len(snap.Messages) != 2 {
		t.Fatalf("reconciled messages = %+v", snap.Messages)
	}
}

func TestSendMessage_FailureKeepsOptimisticAndExplains(t *testing.T) {
	a := &fakeChatAPI{askErr: &api.Error{Status: 500, Code: api.CodeServerError, Message: "boom"}}
	m := newTestChatManager(a, nil)
	m.LoadConversation(context.Background(), "c1")

	if _, err := m.SendMessage(context.Background(), "hola", "c1"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	snap := waitUntil(t, m, func(s State) bool { return !s.IsSending })

	var userTemp, systemMsg bool
	for _, msg := range snap.Messages {
		if domain.IsTempID(msg.ID) && msg.Sender == domain.SenderUser {
			userTemp = true
		}
		if msg.Sender == domain.SenderSystem {
			systemMsg = true
		}
	}
	if !userTemp {
		t.Fatalf("optimistic user message rolled back: %+v", snap.Messages)
	}
	if !systemMsg {
		t.Fatalf("no system explanation appended: %+v", snap.Messages)
	}
}

func TestSendMessage_CreateFailure(t *testing.T) {
	a := &fakeChatAPI{createErr: &api.Error{Status: 500, Code: api.CodeServerError, Message: "boom"}}
	m := newTestChatManager(a, nil)

	if _, err := m.SendMessage(context.Background(), "hola", ""); err == nil {
		t.Fatalf("expected error")
	}
	snap := m.Snapshot()
	if snap.IsSending {
		t.Fatalf("sending flag stuck")
	}
	if snap.Err != "boom" {
		t.Fatalf("Err = %q", snap.Err)
	}
	if len(snap.Messages) != 0 {
		t.Fatalf("no optimistic message should exist: %+v", snap.Messages)
	}
}

func TestRateMessage_AttachesToExactMessage(t *testing.T) {
	a := &fakeChatAPI{
		msgsResp: map[string][]domain.Message{
			"c1": {{ID: "m1", Sender: domain.SenderBot}, {ID: "m2", Sender: domain.SenderBot}},
		},
	}
	m := newTestChatManager(a, nil)
	m.LoadConversation(context.Background(), "c1")

	if err := m.RateMessage(context.Background(), "m2", 4, "útil"); err != nil {
		t.Fatalf("RateMessage: %v", err)
	}
	if a.feedbackMsgID != "m2" || a.feedbackRating != 4 || a.feedbackComment != "útil" {
		t.Fatalf("forwarded %q/%d/%q", a.feedbackMsgID, a.feedbackRating, a.feedbackComment)
	}

	snap := m.Snapshot()
	if len(snap.Messages[0].Feedback) != 0 {
		t.Fatalf("feedback attached to the wrong message")
	}
	fb := snap.Messages[1].Feedback
	if len(fb) != 1 || fb[0].Rating != 4 || fb[0].MessageID != "m2" {
		t.Fatalf("feedback = %+v", fb)
	}
}

func TestRateMessage_FailureLeavesStateUntouched(t *testing.T) {
	a := &fakeChatAPI{
		msgsResp:    map[string][]domain.Message{"c1": {{ID: "m1"}}},
		feedbackErr: &api.Error{Code: api.CodeNetworkError, Message: "offline"},
	}
	m := newTestChatManager(a, nil)
	m.LoadConversation(context.Background(), "c1")

	if err := m.RateMessage(context.Background(), "m1", 5, ""); err == nil {
		t.Fatalf("expected error")
	}
	if len(m.Snapshot().Messages[0].Feedback) != 0 {
		t.Fatalf("feedback attached despite failure")
	}
}

func TestDeleteConversation_ActiveClearsEverything(t *testing.T) {
	a := &fakeChatAPI{
		listConvs: []domain.Conversation{{ID: "c1"}, {ID: "c2"}},
		msgsResp:  map[string][]domain.Message{"c1": {{ID: "m1"}}},
	}
	m := newTestChatManager(a, nil)
	m.LoadConversations(context.Background())
	m.LoadConversation(context.Background(), "c1")

	if err := m.DeleteConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if a.deletedID != "c1" {
		t.Fatalf("deleted %q", a.deletedID)
	}

	snap := m.Snapshot()
	if len(snap.Conversations) != 1 || snap.Conversations[0].ID != "c2" {
		t.Fatalf("conversations = %+v", snap.Conversations)
	}
	if snap.Current != nil || len(snap.Messages) != 0 {
		t.Fatalf("active conversation state not cleared: %+v", snap)
	}
}

func TestDeleteConversation_InactiveKeepsCurrent(t *testing.T) {
	a := &fakeChatAPI{
		listConvs: []domain.Conversation{{ID: "c1"}, {ID: "c2"}},
		msgsResp:  map[string][]domain.Message{"c1": {{ID: "m1"}}},
	}
	m := newTestChatManager(a, nil)
	m.LoadConversations(context.Background())
	m.LoadConversation(context.Background(), "c1")

	if err := m.DeleteConversation(context.Background(), "c2"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	snap := m.Snapshot()
	if snap.Current == nil || snap.Current.ID != "c1" || len(snap.Messages) != 1 {
		t.Fatalf("unrelated delete disturbed the active conversation: %+v", snap)
	}
}

func TestClearCurrent(t *testing.T) {
	a := &fakeChatAPI{msgsResp: map[string][]domain.Message{"c1": {{ID: "m1"}}}}
	m := newTestChatManager(a, nil)
	m.LoadConversation(context.Background(), "c1")

	m.ClearCurrent()

	snap := m.Snapshot()
	if snap.Current != nil || len(snap.Messages) != 0 {
		t.Fatalf("state = %+v", snap)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"hola":                   "hola",
		"  spaced   out  words ": "spaced out words",
		strings.Repeat("a", 50):  strings.Repeat("a", 50),
		strings.Repeat("a", 51):  strings.Repeat("a", 50) + "...",
		strings.Repeat("ñ", 60):  strings.Repeat("ñ", 50) + "...",
	}
	for in, want := range cases {
		if got := deriveTitle(in); got != want {
			t.Errorf("deriveTitle(%q) = %q; want %q", in, got, want)
		}
	}
}
