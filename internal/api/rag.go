// Direct RAG engine access. Most questions go through the backend's "ask"
// endpoint (chat.go); this client exists for diagnostics and tooling that
// query the engine without touching conversation state.
package api

import (
	"context"
	"net/http"

	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
)

const pathRAGQuery = "/rag/query"

// RAGQuery is the engine's question request.
type RAGQuery struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
	Evaluate bool   `json:"evaluate,omitempty"`
}

// RAGAnswer is the engine's response: an answer with cited sources, the
// engine-side latency, and optional quality scores.
type RAGAnswer struct {
	OK        bool                 `json:"ok"`
	Answer    string               `json:"answer"`
	Sources   []domain.AISource    `json:"sources"`
	LatencyMS int64                `json:"latency_ms"`
	Eval      *domain.AIEvaluation `json:"eval,omitempty"`
}

// QueryRAG sends a question straight to the RAG engine.
func (c *Client) QueryRAG(ctx context.Context, q RAGQuery) (*RAGAnswer, error) {
	var out RAGAnswer
	if err := c.do(ctx, "rag.query", http.MethodPost, c.ragURL+pathRAGQuery, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
