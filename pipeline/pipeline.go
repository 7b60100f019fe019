// Package pipeline is the client side of the downstream analysis pipeline.
// Watchtower treats it as opaque: any error is a failed job.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/teranos/watchtower/tracking"
)

// ResultMap is the pipeline's response, keyed by whatever the pipeline returns
// (typically one entry per company). Values are passed through undecoded.
type ResultMap map[string]json.RawMessage

// Pipeline runs the scrape and analysis for a batch of companies on behalf of one user
type Pipeline interface {
	ExecutePipeline(ctx context.Context, companies []tracking.Company, cvReference string, candidateProfile json.RawMessage, userIdentity string) (ResultMap, error)
}

// Func adapts a function to Pipeline
type Func func(ctx context.Context, companies []tracking.Company, cvReference string, candidateProfile json.RawMessage, userIdentity string) (ResultMap, error)

func (f Func) ExecutePipeline(ctx context.Context, companies []tracking.Company, cvReference string, candidateProfile json.RawMessage, userIdentity string) (ResultMap, error) {
	return f(ctx, companies, cvReference, candidateProfile, userIdentity)
}
