package http

import (
	"github.com/danielscholl/obsidian-rag-mcp/internal/indexer"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Vault     string `json:"vault"`
	Reasoning bool   `json:"reasoning"`
}

// ReasoningSearchRequest is the request body for POST /api/v1/search/reasoning.
type ReasoningSearchRequest struct {
	Query           string   `json:"query"`
	TopK            *int     `json:"top_k,omitempty"`
	ConclusionTypes []string `json:"conclusion_types,omitempty"`
	MinConfidence   float64  `json:"min_confidence,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// ExploreRequest is the request body for POST /api/v1/conclusions/explore.
type ExploreRequest struct {
	Query         string  `json:"query,omitempty"`
	ConclusionID  string  `json:"conclusion_id,omitempty"`
	TopK          *int    `json:"top_k,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// NoteResponse is the response body for GET /api/v1/notes.
type NoteResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Index *indexer.Stats `json:"index"`

	// ConclusionsByType is present only when reasoning is enabled.
	ConclusionsByType map[string]int `json:"conclusions_by_type,omitempty"`
}
