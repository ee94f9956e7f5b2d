package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
)

// Snapshot is one reading of the index.
type Snapshot struct {
	VaultPath            string
	Reasoning            bool
	TotalFiles           int
	TotalChunks          int
	TotalConclusions     int
	ByType               map[string]int
	IndexedAt            time.Time
	FilesIndexed         int
	ConclusionsExtracted int

	// Historical data for sparklines (last N points)
	ChunkHistory      []float64
	ConclusionHistory []float64
}

// Source produces snapshots for the dashboard.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
	// Describe names the source in the dashboard header.
	Describe() string
}

// EngineSource reads the index in-process.
type EngineSource struct {
	Engine *engine.Engine
}

func (s EngineSource) Describe() string { return s.Engine.Vault().Root() }

// Fetch reads the stored index statistics and conclusion counts.
func (s EngineSource) Fetch(ctx context.Context) (Snapshot, error) {
	stats, err := s.Engine.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		VaultPath:            stats.VaultPath,
		Reasoning:            stats.ReasoningEnabled,
		TotalFiles:           stats.TotalFiles,
		TotalChunks:          stats.TotalChunks,
		TotalConclusions:     stats.TotalConclusions,
		IndexedAt:            stats.IndexedAt,
		FilesIndexed:         stats.FilesIndexed,
		ConclusionsExtracted: stats.ConclusionsExtracted,
	}
	if s.Engine.ReasoningEnabled() {
		counts, err := s.Engine.ConclusionCounts(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		snap.ByType = make(map[string]int, len(counts))
		for t, n := range counts {
			snap.ByType[t.String()] = n
		}
	}
	return snap, nil
}

// StatsClient reads the index from a running HTTP server.
type StatsClient struct {
	baseURL string
	client  *http.Client
}

// statsPayload mirrors GET /api/v1/stats.
type statsPayload struct {
	Index struct {
		TotalFiles           int       `json:"total_files"`
		TotalChunks          int       `json:"total_chunks"`
		IndexedAt            time.Time `json:"indexed_at"`
		VaultPath            string    `json:"vault_path"`
		FilesIndexed         int       `json:"files_indexed"`
		ConclusionsExtracted int       `json:"conclusions_extracted"`
		TotalConclusions     int       `json:"total_conclusions"`
		ReasoningEnabled     bool      `json:"reasoning_enabled"`
	} `json:"index"`
	ConclusionsByType map[string]int `json:"conclusions_by_type"`
}

// NewStatsClient creates a client for the server at baseURL.
func NewStatsClient(baseURL string) *StatsClient {
	return &StatsClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (c *StatsClient) Describe() string { return c.baseURL }

// Fetch queries GET /api/v1/stats.
func (c *StatsClient) Fetch(ctx context.Context) (Snapshot, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/stats")
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var p statsPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return Snapshot{
		VaultPath:            p.Index.VaultPath,
		Reasoning:            p.Index.ReasoningEnabled,
		TotalFiles:           p.Index.TotalFiles,
		TotalChunks:          p.Index.TotalChunks,
		TotalConclusions:     p.Index.TotalConclusions,
		ByType:               p.ConclusionsByType,
		IndexedAt:            p.Index.IndexedAt,
		FilesIndexed:         p.Index.FilesIndexed,
		ConclusionsExtracted: p.Index.ConclusionsExtracted,
	}, nil
}
