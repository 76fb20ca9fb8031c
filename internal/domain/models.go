// Package domain defines the client-side model types for identities,
// conversations, messages, and AI annotations. The JSON shapes mirror the
// assistant backend's wire format; all types are plain values owned by the
// state managers and treated as read-only by consumers.
package domain

import (
	"sort"
	"time"
)

// Sender kinds for Message.Sender.
const (
	SenderUser   = "user"
	SenderBot    = "bot"
	SenderSystem = "system"
)

// RoleAdmin is the role name that grants administrative privileges.
// Absence of this role means standard privileges.
const RoleAdmin = "admin"

// Identity represents the authenticated principal. It is created by a
// successful login/register/verify exchange, replaced wholesale on every
// session refresh, and cleared entirely on logout.
//
// Fields:
//   - ID: opaque server-assigned identifier.
//   - Email / DisplayName: profile basics.
//   - AvatarURL: optional avatar reference.
//   - IsActive: account enabled flag.
//   - Roles: role names; never nil after normalization (see Normalize).
//   - CreatedAt / LastLoginAt: server-managed timestamps.
type Identity struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	IsActive    bool       `json:"is_active"`
	Roles       []string   `json:"roles,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Normalize enforces the role-set invariant: Roles is never nil.
func (u *Identity) Normalize() {
	if u != nil && u.Roles == nil {
		u.Roles = []string{}
	}
}

// HasRole reports whether the identity carries the named role.
func (u *Identity) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity carries the admin role.
func (u *Identity) IsAdmin() bool { return u.HasRole(RoleAdmin) }

// Conversation represents one chat thread. Once ClosedAt is set the server
// rejects further messages; the client must not assume otherwise.
type Conversation struct {
	ID                string     `json:"id"`
	OwnerUserID       string     `json:"owner_user_id"`
	Title             string     `json:"title,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	MessagesCount     int        `json:"messages_count,omitempty"`
	ParticipantsCount int        `json:"participants_count,omitempty"`
}

// IsClosed reports whether the conversation no longer accepts messages.
func (c *Conversation) IsClosed() bool { return c != nil && c.ClosedAt != nil }

// Participant links a user to a conversation.
type Participant struct {
	ConversationID string       `json:"conversation_id"`
	UserID         string       `json:"user_id"`
	IsOwner        bool         `json:"is_owner"`
	AddedAt        time.Time    `json:"added_at"`
	User           *MessageUser `json:"user,omitempty"`
}

// MessageUser is the denormalized sender profile attached to a message.
type MessageUser struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Message is one chat turn. AISources and AIEval are present only when the
// sender is "bot".
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	SenderUserID   string            `json:"sender_user_id,omitempty"`
	Sender         string            `json:"sender"`
	Content        string            `json:"content"`
	LatencyMS      *int64            `json:"latency_ms,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	User           *MessageUser      `json:"user,omitempty"`
	AISources      []AISource        `json:"ai_sources,omitempty"`
	AIEval         *AIEvaluation     `json:"ai_eval,omitempty"`
	Feedback       []MessageFeedback `json:"feedback,omitempty"`
}

// MessageFeedback is a user rating (1-5) attached to a message.
type MessageFeedback struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AISource is a single citation: a document identifier and the chunk index
// the answer drew from.
type AISource struct {
	Source string `json:"source"`
	Chunk  int    `json:"chunk"`
}

// SourceGroup collects the chunks cited from one document, ordered ascending.
type SourceGroup struct {
	Source string
	Chunks []int
}

// GroupSources groups citations by document identifier for display. Groups
// preserve first-appearance order; chunk indexes within a group are sorted
// ascending and deduplicated.
func GroupSources(sources []AISource) []SourceGroup {
	if len(sources) == 0 {
		return nil
	}
	idx := make(map[string]int, len(sources))
	groups := make([]SourceGroup, 0, len(sources))
	for _, s := range sources {
		i, ok := idx[s.Source]
		if !ok {
			i = len(groups)
			idx[s.Source] = i
			groups = append(groups, SourceGroup{Source: s.Source})
		}
		groups[i].Chunks = append(groups[i].Chunks, s.Chunk)
	}
	for i := range groups {
		sort.Ints(groups[i].Chunks)
		groups[i].Chunks = dedupSortedInts(groups[i].Chunks)
	}
	return groups
}

func dedupSortedInts(in []int) []int {
	out := in[:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// AIEvaluation holds four bounded [0,1] answer-quality scores.
type AIEvaluation struct {
	ContextSimilarity float64 `json:"context_similarity"`
	CitationCoverage  float64 `json:"citation_coverage"`
	LengthOK          float64 `json:"length_ok"`
	Overall           float64 `json:"overall"`
}

// Display thresholds for evaluation scores.
const (
	evalGoodThreshold = 0.8
	evalFairThreshold = 0.6
)

// EvalLevel buckets a [0,1] score for display color-coding.
type EvalLevel string

// Evaluation display buckets.
const (
	EvalGood EvalLevel = "good"
	EvalFair EvalLevel = "fair"
	EvalPoor EvalLevel = "poor"
)

// LevelFor buckets a score at the 0.8/0.6 display boundaries.
func LevelFor(score float64) EvalLevel {
	switch {
	case score >= evalGoodThreshold:
		return EvalGood
	case score >= evalFairThreshold:
		return EvalFair
	default:
		return EvalPoor
	}
}
