// Package memory stores past requests and the responses that satisfied them,
// and retrieves them by similarity so the orchestrator can reuse or adapt a
// prior run instead of planning from scratch.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one remembered run.
type Record struct {
	ID               string    `json:"id"`
	Input            string    `json:"input"`
	Response         string    `json:"response"`
	Confidence       float64   `json:"confidence"`
	UsedCapabilities []string  `json:"used_capabilities"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Hits             int       `json:"hits"`
}

// NewRecord creates a record with a fresh id.
func NewRecord(input, response string, confidence float64, used []string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:               uuid.NewString(),
		Input:            input,
		Response:         response,
		Confidence:       clamp01(confidence),
		UsedCapabilities: used,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Match is a backend hit.
type Match struct {
	Record     *Record `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Backend is the similarity store behind the index.
type Backend interface {
	// FindSimilar returns records whose similarity to text is at least
	// threshold, most similar first.
	FindSimilar(ctx context.Context, text string, threshold float64) ([]Match, error)
	Put(ctx context.Context, rec *Record) error
	UpdateConfidence(ctx context.Context, id string, confidence float64) error
	Close() error
}
