package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/danielscholl/obsidian-rag-mcp/internal/engine"
	"github.com/danielscholl/obsidian-rag-mcp/internal/logging"
	"github.com/danielscholl/obsidian-rag-mcp/internal/reasoning"
)

const (
	defaultTopK        = 5
	defaultExploreTopK = 10
	defaultLimit       = 10
	defaultMaxDepth    = 3
)

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// queryInt reads an integer query parameter, returning def when it is absent.
func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return n, nil
}

// queryTags accepts both repeated tags parameters and comma separated lists.
func queryTags(c echo.Context) []string {
	var tags []string
	for _, v := range c.QueryParams()["tags"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func parseTypes(raw []string) ([]reasoning.ConclusionType, error) {
	out := make([]reasoning.ConclusionType, 0, len(raw))
	for _, r := range raw {
		t, err := reasoning.ParseConclusionType(r)
		if err != nil {
			return nil, badRequest("unknown conclusion type %q", r)
		}
		out = append(out, t)
	}
	return out, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Vault:     s.engine.Vault().Root(),
		Reasoning: s.engine.ReasoningEnabled(),
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	topK, err := queryInt(c, "top_k", defaultTopK)
	if err != nil {
		return err
	}
	resp, err := s.engine.Search(c.Request().Context(), c.QueryParam("q"), topK, queryTags(c), 0)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReasoningSearch(c echo.Context) error {
	var req ReasoningSearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid reasoning search request", append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	types, err := parseTypes(req.ConclusionTypes)
	if err != nil {
		return err
	}

	resp, err := s.engine.SearchWithReasoning(c.Request().Context(), engine.ReasoningSearch{
		Query:         req.Query,
		TopK:          intOr(req.TopK, defaultTopK),
		Types:         types,
		MinConfidence: req.MinConfidence,
		Tags:          req.Tags,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConclusion(c echo.Context) error {
	conclusion, err := s.engine.GetConclusion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conclusion)
}

func (s *Server) handleTrace(c echo.Context) error {
	depth, err := queryInt(c, "max_depth", defaultMaxDepth)
	if err != nil {
		return err
	}
	trace, err := s.engine.GetConclusionTrace(c.Request().Context(), c.Param("id"), depth)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, trace)
}

func (s *Server) handleExplore(c echo.Context) error {
	var req ExploreRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid explore request", append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	connected, err := s.engine.ExploreConnectedConclusions(c.Request().Context(), engine.Explore{
		Query:         req.Query,
		ConclusionID:  req.ConclusionID,
		TopK:          intOr(req.TopK, defaultExploreTopK),
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, connected)
}

func (s *Server) handleNote(c echo.Context) error {
	path := c.QueryParam("path")
	content, err := s.engine.GetNote(c.Request().Context(), path)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NoteResponse{Path: path, Content: content})
}

func (s *Server) handleRelated(c echo.Context) error {
	topK, err := queryInt(c, "top_k", defaultTopK)
	if err != nil {
		return err
	}
	resp, err := s.engine.GetRelated(c.Request().Context(), c.QueryParam("path"), topK)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecent(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultLimit)
	if err != nil {
		return err
	}
	notes, err := s.engine.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, notes)
}

func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return err
	}
	resp := StatsResponse{Index: stats}
	if s.engine.ReasoningEnabled() {
		counts, err := s.engine.ConclusionCounts(ctx)
		if err != nil {
			return err
		}
		resp.ConclusionsByType = make(map[string]int, len(counts))
		for t, n := range counts {
			resp.ConclusionsByType[t.String()] = n
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIndex(c echo.Context) error {
	force := false
	if raw := c.QueryParam("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest("force must be a boolean")
		}
		force = v
	}

	stats, err := s.engine.Index(c.Request().Context(), force)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
