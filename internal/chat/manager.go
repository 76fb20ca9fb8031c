// Package chat – Manager
//
// The Manager owns the conversation list, the active conversation's message
// sequence, and the send pipeline. Sending is two-phase: a temporary user
// message (client-only id namespace) is inserted synchronously so the caller
// can navigate immediately, and the backend's combined ask round-trip later
// replaces it with the canonical user message and the bot reply. Pending
// sends are tracked in a small operation log keyed by temporary id, so
// reconciliation is an atomic swap rather than scattered list filtering.
//
// Loading a conversation races two fetches (metadata and history) that are
// joined and applied together, gated by a "still the active conversation"
// check: a stale response never overwrites a newer selection.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/unizar-ia/thesis-assistant-client/internal/api"
	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
)

// titleMaxRunes caps titles derived from the first message.
const titleMaxRunes = 50

// askFailureText is appended as a system message when the AI round-trip
// fails. The optimistic user message stays visible: input is never silently
// erased.
const askFailureText = "Sorry, something went wrong while answering your question. Please try again."

// ChatAPI is the backend surface the Manager depends on.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type ChatAPI interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*api.ConversationDetails, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	Ask(ctx context.Context, conversationID, question string, opts api.AskOptions) (*api.AskResult, error)
	LeaveFeedback(ctx context.Context, messageID string, rating int, comment string) error
	DeleteConversation(ctx context.Context, id string) error
}

// ConversationCache is the optional local mirror of the conversation list.
type ConversationCache interface {
	ReplaceConversations(ctx context.Context, convs []domain.Conversation) error
	CachedConversations(ctx context.Context) ([]domain.Conversation, error)
}

// IdentityFunc supplies the current identity for stamping optimistic
// messages. It may return nil when anonymous.
type IdentityFunc func() *domain.Identity

// State is an immutable view of the chat state. Slices are copies; the
// elements must be treated as read-only.
type State struct {
	Conversations []domain.Conversation
	Current       *api.ConversationDetails
	Messages      []domain.Message

	IsLoading         bool
	IsLoadingMessages bool
	IsSending         bool

	// Err is the last recoverable error message, "" when none. It is
	// cleared at the start of the next attempt.
	Err string
}

// pendingSend is one optimistic operation awaiting reconciliation.
type pendingSend struct {
	tempID         string
	conversationID string
}

// Options configures a Manager. API is required.
type Options struct {
	API      ChatAPI
	Cache    ConversationCache
	Identity IdentityFunc
	// Ask tunes the backend RAG invocation; Evaluate defaults to on so
	// quality scores are always collected.
	Ask    api.AskOptions
	Logger zerolog.Logger
}

// Manager implements the conversation state machine. Safe for concurrent
// use; all state lives behind one mutex.
type Manager struct {
	apiClient ChatAPI
	cache     ConversationCache
	identity  IdentityFunc
	askOpts   api.AskOptions
	log       zerolog.Logger

	mu            sync.Mutex
	conversations []domain.Conversation
	current       *api.ConversationDetails
	messages      []domain.Message
	currentID     string // staleness guard token; "" when no selection
	isLoading     bool
	isLoadingMsgs bool
	isSending     bool
	errMsg        string
	pendingSends  map[string]pendingSend
	subs          map[int]chan State
	nextSub       int
}

// NewManager constructs an empty Manager.
func NewManager(opts Options) *Manager {
	ask := opts.Ask
	if ask == (api.AskOptions{}) {
		ask.Evaluate = true
	}
	identity := opts.Identity
	if identity == nil {
		identity = func() *domain.Identity { return nil }
	}
	return &Manager{
		apiClient:    opts.API,
		cache:        opts.Cache,
		identity:     identity,
		askOpts:      ask,
		log:          opts.Logger.With().Str("component", "chat").Logger(),
		pendingSends: make(map[string]pendingSend),
		subs:         make(map[int]chan State),
	}
}

// Snapshot returns a copy of the current chat state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	return State{
		Conversations:     append([]domain.Conversation(nil), m.conversations...),
		Current:           m.current,
		Messages:          append([]domain.Message(nil), m.messages...),
		IsLoading:         m.isLoading,
		IsLoadingMessages: m.isLoadingMsgs,
		IsSending:         m.isSending,
		Err:               m.errMsg,
	}
}

// Subscribe returns a channel of state snapshots and a cancel function.
// Slow consumers may miss intermediate snapshots; the latest state is always
// available via Snapshot.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 16)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// notifyLocked publishes the current state to all subscribers. Must be
// called with the mutex held.
func (m *Manager) notifyLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// PrimeFromCache seeds the conversation list from the local mirror so the
// UI has something to show before the first network load. A later
// LoadConversations replaces it wholesale.
func (m *Manager) PrimeFromCache(ctx context.Context) {
	if m.cache == nil {
		return
	}
	convs, err := m.cache.CachedConversations(ctx)
	if err != nil || len(convs) == 0 {
		return
	}
	m.mu.Lock()
	if len(m.conversations) == 0 {
		m.conversations = convs
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// LoadConversations replaces the full conversation list from the server.
// Concurrent calls are not coalesced; callers that care about duplicate
// network work must serialize their own calls.
func (m *Manager) LoadConversations(ctx context.Context) {
	tr := otel.Tracer("chat/Manager")
	ctx, span := tr.Start(ctx, "LoadConversations")
	defer span.End()

	m.mu.Lock()
	m.isLoading = true
	m.errMsg = ""
	m.notifyLocked()
	m.mu.Unlock()

	convs, err := m.apiClient.ListConversations(ctx)

	m.mu.Lock()
	m.isLoading = false
	if err != nil {
		m.errMsg = api.UserMessage(err)
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	m.conversations = convs
	m.notifyLocked()
	m.mu.Unlock()

	if m.cache != nil {
		if cerr := m.cache.ReplaceConversations(ctx, convs); cerr != nil {
			m.log.Warn().Err(cerr).Msg("could not refresh local conversation cache")
		}
	}
}

// LoadConversation fetches a conversation's metadata and message history
// concurrently and applies them together. If the active conversation changes
// before both requests resolve, the stale result is discarded silently:
// last-requested-wins.
func (m *Manager) LoadConversation(ctx context.Context, id string) {
	tr := otel.Tracer("chat/Manager")
	ctx, span := tr.Start(ctx, "LoadConversation",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	m.mu.Lock()
	m.currentID = id
	m.isLoadingMsgs = true
	m.errMsg = ""
	m.notifyLocked()
	m.mu.Unlock()

	var (
		details *api.ConversationDetails
		msgs    []domain.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := m.apiClient.GetConversation(gctx, id)
		details = d
		return err
	})
	g.Go(func() error {
		mm, err := m.apiClient.ListMessages(gctx, id)
		msgs = mm
		return err
	})
	err := g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID != id {
		// Superseded by a newer selection; drop silently.
		return
	}
	m.isLoadingMsgs = false
	if err != nil {
		m.errMsg = api.UserMessage(err)
		m.notifyLocked()
		return
	}
	m.current = details
	m.messages = msgs
	m.notifyLocked()
}

// CreateConversation opens a conversation server-side and prepends it to the
// local list (deduplicated by id).
func (m *Manager) CreateConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	m.mu.Lock()
	m.errMsg = ""
	m.mu.Unlock()

	conv, err := m.apiClient.CreateConversation(ctx, title)
	if err != nil {
		m.setError(api.UserMessage(err))
		return nil, err
	}

	m.mu.Lock()
	m.prependConversationLocked(*conv)
	m.notifyLocked()
	m.mu.Unlock()
	return conv, nil
}

// prependConversationLocked puts conv first, removing any previous entry
// with the same id. Must be called with the mutex held.
func (m *Manager) prependConversationLocked(conv domain.Conversation) {
	out := make([]domain.Conversation, 0, len(m.conversations)+1)
	out = append(out, conv)
	for _, c := range m.conversations {
		if c.ID != conv.ID {
			out = append(out, c)
		}
	}
	m.conversations = out
}

// SendMessage runs the optimistic send pipeline. It creates a conversation
// when no id is given (titled from the content), inserts a temporary user
// message, and returns the target conversation id immediately; the AI
// round-trip reconciles in the background. Callers must not block on the
// reply.
func (m *Manager) SendMessage(ctx context.Context, content, conversationID string) (string, error) {
	tr := otel.Tracer("chat/Manager")
	ctx, span := tr.Start(ctx, "SendMessage")
	defer span.End()

	m.mu.Lock()
	m.isSending = true
	m.errMsg = ""
	m.notifyLocked()
	m.mu.Unlock()

	targetID := conversationID
	if targetID == "" {
		conv, err := m.apiClient.CreateConversation(ctx, deriveTitle(content))
		if err != nil {
			m.mu.Lock()
			m.isSending = false
			m.errMsg = api.UserMessage(err)
			m.notifyLocked()
			m.mu.Unlock()
			return "", err
		}
		targetID = conv.ID
		m.mu.Lock()
		m.prependConversationLocked(*conv)
		m.currentID = targetID
		m.notifyLocked()
		m.mu.Unlock()
	}
	span.SetAttributes(attribute.String("conversation.id", targetID))

	temp := domain.Message{
		ID:             domain.NewTempUserID(),
		ConversationID: targetID,
		Sender:         domain.SenderUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if id := m.identity(); id != nil {
		temp.SenderUserID = id.ID
		temp.User = &domain.MessageUser{DisplayName: id.DisplayName, AvatarURL: id.AvatarURL}
	}

	op := pendingSend{tempID: temp.ID, conversationID: targetID}
	m.mu.Lock()
	m.messages = append(m.messages, temp)
	m.pendingSends[op.tempID] = op
	m.notifyLocked()
	m.mu.Unlock()

	// Reconcile in the background; the caller navigates immediately. The
	// detached context survives the caller's navigation cancelling ctx.
	go m.reconcile(context.WithoutCancel(ctx), op, content)

	return targetID, nil
}

// reconcile completes one pending send: on success the temporary message is
// swapped for the canonical user+bot pair in a single state update; on
// failure the temporary message stays (sent but unanswered) and a system
// message explains what happened.
func (m *Manager) reconcile(ctx context.Context, op pendingSend, content string) {
	res, err := m.apiClient.Ask(ctx, op.conversationID, content, m.askOpts)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingSends, op.tempID)
	m.isSending = false

	if err != nil {
		m.log.Warn().Err(err).Str("conversation_id", op.conversationID).Msg("ask failed")
		if m.currentID == op.conversationID {
			m.messages = append(m.messages, domain.Message{
				ID:             domain.NewTempErrorID(),
				ConversationID: op.conversationID,
				Sender:         domain.SenderSystem,
				Content:        askFailureText,
				CreatedAt:      time.Now().UTC(),
			})
		}
		m.notifyLocked()
		return
	}

	// Drop the temporary message and insert the canonical pair atomically,
	// suppressing duplicates if either id is already present.
	kept := make([]domain.Message, 0, len(m.messages)+2)
	userExists, botExists := false, false
	for _, msg := range m.messages {
		if msg.ID == op.tempID {
			continue
		}
		if msg.ID == res.User.ID {
			userExists = true
		}
		if msg.ID == res.Bot.ID {
			botExists = true
		}
		kept = append(kept, msg)
	}
	if m.currentID == op.conversationID {
		if !userExists {
			kept = append(kept, res.User)
		}
		if !botExists {
			kept = append(kept, res.Bot)
		}
	}
	m.messages = kept
	m.notifyLocked()
}

// RateMessage submits 1-5 feedback for a message. Fire-and-forget: no
// automatic retry. On success the local message gains the feedback
// annotation; every other message is untouched.
func (m *Manager) RateMessage(ctx context.Context, messageID string, rating int, comment string) error {
	if err := m.apiClient.LeaveFeedback(ctx, messageID, rating, comment); err != nil {
		m.setError(api.UserMessage(err))
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == messageID {
			m.messages[i].Feedback = []domain.MessageFeedback{{
				ID:        uuid.NewString(),
				MessageID: messageID,
				Rating:    rating,
				Comment:   comment,
				CreatedAt: time.Now().UTC(),
			}}
			break
		}
	}
	m.notifyLocked()
	return nil
}

// DeleteConversation soft-deletes a conversation: the server keeps history,
// the local list drops the entry, and if it was the active conversation the
// message state is cleared too.
func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	m.errMsg = ""
	m.mu.Unlock()

	if err := m.apiClient.DeleteConversation(ctx, id); err != nil {
		m.setError(api.UserMessage(err))
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.conversations[:0]
	for _, c := range m.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	m.conversations = kept
	if m.currentID == id {
		m.currentID = ""
		m.current = nil
		m.messages = nil
	}
	m.notifyLocked()
	return nil
}

// ClearCurrent drops the active conversation and its messages.
func (m *Manager) ClearCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentID = ""
	m.current = nil
	m.messages = nil
	m.notifyLocked()
}

// setError records a recoverable error message.
func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.errMsg = msg
	m.notifyLocked()
	m.mu.Unlock()
}

// deriveTitle builds a conversation title from the first message: leading
// whitespace collapsed, clipped to 50 runes with an ellipsis.
func deriveTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	return string([]rune(content)[:titleMaxRunes]) + "..."
}
