// Chat endpoints: conversation CRUD, message history, the combined "ask"
// round-trip, and message feedback. Responses arrive in {data|ok} envelopes.
package api

import (
	"context"
	"net/url"

	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
)

const (
	pathConversations = "/api/chat/conversations"
	pathMessages      = "/api/chat/messages"
)

// ConversationDetails is a conversation plus its participant list and,
// optionally, the most recent messages.
type ConversationDetails struct {
	domain.Conversation
	Participants   []domain.Participant `json:"participants,omitempty"`
	RecentMessages []domain.Message     `json:"recent_messages,omitempty"`
}

// AskResult carries the canonical user message and the bot reply the backend
// persisted for one question.
type AskResult struct {
	User domain.Message `json:"user"`
	Bot  domain.Message `json:"bot"`
}

type conversationListEnvelope struct {
	Data []domain.Conversation `json:"data"`
}

type conversationEnvelope struct {
	Data domain.Conversation `json:"data"`
}

type conversationDetailsEnvelope struct {
	Data ConversationDetails `json:"data"`
}

type messageListEnvelope struct {
	Data []domain.Message `json:"data"`
}

type askEnvelope struct {
	Data AskResult `json:"data"`
}

// ListConversations returns every conversation of the current user.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out conversationListEnvelope
	if err := c.get(ctx, "chat.list", pathConversations, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateConversation opens a new conversation, optionally titled.
func (c *Client) CreateConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	var out conversationEnvelope
	if err := c.post(ctx, "chat.create", pathConversations, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetConversation fetches one conversation's metadata and participants.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetails, error) {
	var out conversationDetailsEnvelope
	if err := c.get(ctx, "chat.get", pathConversations+"/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// ListMessages fetches the full message history of a conversation, in
// chronological order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out messageListEnvelope
	path := pathConversations + "/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, "chat.messages", path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AskOptions tunes the backend's RAG invocation for one question.
type AskOptions struct {
	// K limits retrieval to the top K chunks; 0 keeps the server default.
	K int
	// Evaluate requests answer-quality scores alongside the reply.
	Evaluate bool
}

// Ask sends a question to a conversation. The backend persists the user
// message, invokes the RAG engine, and returns both the canonical user
// message and the bot reply in one response.
func (c *Client) Ask(ctx context.Context, conversationID, question string, opts AskOptions) (*AskResult, error) {
	body := map[string]any{"question": question}
	if opts.K > 0 {
		body["k"] = opts.K
	}
	if opts.Evaluate {
		body["evaluate"] = true
	}
	var out askEnvelope
	path := pathConversations + "/" + url.PathEscape(conversationID) + "/ask"
	if err := c.post(ctx, "chat.ask", path, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// LeaveFeedback submits a 1-5 rating (with optional comment) for a message.
func (c *Client) LeaveFeedback(ctx context.Context, messageID string, rating int, comment string) error {
	body := map[string]any{"rating": rating}
	if comment != "" {
		body["comment"] = comment
	}
	var out OKResponse
	path := pathMessages + "/" + url.PathEscape(messageID) + "/feedback"
	return c.post(ctx, "chat.feedback", path, body, &out)
}

// DeleteConversation soft-deletes a conversation. Server-side history is
// retained; only the listing goes away.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	var out conversationEnvelope
	return c.del(ctx, "chat.delete", pathConversations+"/"+url.PathEscape(id), &out)
}
