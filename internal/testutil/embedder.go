// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Dim is the size of HashEmbedder vectors.
const Dim = 64

// ErrEmbedderDown is returned by a failing HashEmbedder.
var ErrEmbedderDown = errors.New("embedder down")

// HashEmbedder hashes words into buckets so texts sharing words are close.
// It is deterministic and safe for concurrent use.
type HashEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

// SetFail makes every later call fail.
func (e *HashEmbedder) SetFail(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

// Calls returns the number of texts embedded so far.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, ErrEmbedderDown
	}
	e.calls += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, ErrEmbedderDown
	}
	e.calls++
	return Embed(text), nil
}

// Dimension returns Dim.
func (e *HashEmbedder) Dimension() int { return Dim }

// Close is a no-op.
func (e *HashEmbedder) Close() error { return nil }

// Embed returns the normalized bag-of-words vector for text.
func Embed(text string) []float32 {
	v := make([]float32, Dim)
	v[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32()%uint32(Dim-1))]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}
