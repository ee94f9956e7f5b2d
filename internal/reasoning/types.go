// Package reasoning defines the conclusion model shared by the extractor,
// the conclusion store, and the query engine.
//
// A Conclusion is an LLM-proposed statement derived from exactly one source
// chunk. Its ID is a pure function of the normalized statement and the chunk
// ID, so re-extracting an unchanged chunk overwrites instead of duplicating.
package reasoning

import (
	"fmt"
	"math"
	"strings"
)

// ConclusionType classifies how a conclusion was reached.
type ConclusionType string

const (
	// Deductive conclusions follow with certainty from explicit statements.
	Deductive ConclusionType = "deductive"
	// Inductive conclusions generalize a pattern from several observations.
	Inductive ConclusionType = "inductive"
	// Abductive conclusions are the best explanation for an observation.
	// They are the most speculative and are disabled by default.
	Abductive ConclusionType = "abductive"
)

// AllTypes lists every conclusion type.
var AllTypes = []ConclusionType{Deductive, Inductive, Abductive}

// Valid reports whether t is one of the known conclusion types.
func (t ConclusionType) Valid() bool {
	switch t {
	case Deductive, Inductive, Abductive:
		return true
	}
	return false
}

// String returns the wire value of the type.
func (t ConclusionType) String() string { return string(t) }

// ParseConclusionType parses a type name case-insensitively.
func ParseConclusionType(s string) (ConclusionType, error) {
	t := ConclusionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown conclusion type %q", s)
	}
	return t, nil
}

// ChunkContext describes where a chunk of text came from.
type ChunkContext struct {
	SourcePath string   `json:"source_path"`
	Title      string   `json:"title"`
	Heading    string   `json:"heading,omitempty"` // empty when the chunk has no enclosing section
	Tags       []string `json:"tags"`
	ChunkIndex int      `json:"chunk_index"`
}

// ChunkID returns the canonical chunk identifier shared with the chunk
// collection: "{sourcePath}:{chunkIndex}".
func (c ChunkContext) ChunkID() string {
	return ChunkID(c.SourcePath, c.ChunkIndex)
}

// ChunkID formats a chunk identifier.
func ChunkID(sourcePath string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", sourcePath, chunkIndex)
}

// Conclusion is the atomic reasoning unit.
type Conclusion struct {
	ID            string         `json:"id"`
	Type          ConclusionType `json:"type"`
	Statement     string         `json:"statement"`
	Confidence    float64        `json:"confidence"`
	Evidence      []string       `json:"evidence"`
	SourceChunkID string         `json:"source_chunk_id"`
	Context       ChunkContext   `json:"context"`

	// RelatedConclusions holds weak references to other conclusion IDs.
	// They may dangle after deletes; lookups must tolerate misses.
	RelatedConclusions []string `json:"related_conclusions"`
	CreatedAt          string   `json:"created_at,omitempty"`
}

// Validate checks the invariants every stored conclusion must satisfy.
func (c Conclusion) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("conclusion id is required")
	}
	if strings.TrimSpace(c.Statement) == "" {
		return fmt.Errorf("conclusion %s: statement is required", c.ID)
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("conclusion %s: confidence %.4f out of range [0,1]", c.ID, c.Confidence)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("conclusion %s: invalid type %q", c.ID, c.Type)
	}
	return nil
}

// EvidenceChunk is a source chunk shown as evidence for a conclusion.
type EvidenceChunk struct {
	ChunkID        string       `json:"chunk_id"`
	Content        string       `json:"content"`
	RelevanceScore float64      `json:"relevance_score"`
	Context        ChunkContext `json:"context"`
}

// ScoredConclusion pairs a conclusion with a similarity score.
type ScoredConclusion struct {
	Conclusion Conclusion `json:"conclusion"`
	Similarity float64    `json:"similarity"`
}

// ReasoningTrace explains a conclusion: its source evidence and the
// neighbouring conclusions found by one similarity hop.
type ReasoningTrace struct {
	Conclusion         Conclusion         `json:"conclusion"`
	SupportingEvidence []EvidenceChunk    `json:"supporting_evidence"`
	ParentConclusions  []ScoredConclusion `json:"parent_conclusions"`
	ChildConclusions   []ScoredConclusion `json:"child_conclusions"`

	// ConfidencePath multiplies the target confidence by each parent's
	// confidence. It is a display heuristic, not a calibrated probability.
	ConfidencePath float64 `json:"confidence_path"`
}

// Relationship names how a connected conclusion relates to its anchor.
type Relationship string

const (
	RelationshipSameSource   Relationship = "same_source"
	RelationshipSimilar      Relationship = "similar"
	RelationshipMatchesQuery Relationship = "matches_query"
)

// ConnectedConclusion is a conclusion reached from a query or another conclusion.
type ConnectedConclusion struct {
	Conclusion     Conclusion   `json:"conclusion"`
	Relationship   Relationship `json:"relationship"`
	Strength       float64      `json:"strength"`
	SharedEvidence []string     `json:"shared_evidence"`
}
