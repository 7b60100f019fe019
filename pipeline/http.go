package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/internal/httpclient"
	"github.com/teranos/watchtower/tracking"
)

// maxErrorBody caps how much of a failed response is kept in the error
const maxErrorBody = 2048

// Config holds HTTP pipeline settings
type Config struct {
	Endpoint            string
	APIKey              string
	AllowPrivateNetwork bool
	Timeout             time.Duration      // 0 = rely on the job context
	Logger              *zap.SugaredLogger // nil = nop
}

// ConfigFromAm reads the pipeline section of am
func ConfigFromAm(cfg *am.Config) Config {
	return Config{
		Endpoint:            cfg.Pipeline.Endpoint,
		APIKey:              cfg.Pipeline.APIKey,
		AllowPrivateNetwork: cfg.Pipeline.AllowPrivateNetwork,
	}
}

// HTTPPipeline posts each batch to a remote pipeline endpoint
type HTTPPipeline struct {
	endpoint string
	apiKey   string
	client   *httpclient.Client
	logger   *zap.SugaredLogger
}

type companyPayload struct {
	ID                   string     `json:"id"`
	DisplayName          string     `json:"display_name"`
	LastSuccessfulScrape *time.Time `json:"last_successful_scrape,omitempty"`
}

type requestPayload struct {
	Companies        []companyPayload `json:"companies"`
	CVReference      string           `json:"cv_reference"`
	CandidateProfile json.RawMessage  `json:"candidate_profile"`
	UserIdentity     string           `json:"user_identity"`
}

// NewHTTPPipeline validates the endpoint and builds the client
func NewHTTPPipeline(cfg Config) (*HTTPPipeline, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WithHint(
			errors.WrapInvalidRequest(errors.New("pipeline endpoint not configured"), "pipeline"),
			"set pipeline.endpoint in am.toml or WATCHTOWER_PIPELINE_ENDPOINT")
	}

	client := httpclient.New(httpclient.Options{
		Timeout:             cfg.Timeout,
		BlockPrivateNetwork: !cfg.AllowPrivateNetwork,
	})
	if _, err := client.CheckURL(cfg.Endpoint); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline endpoint")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &HTTPPipeline{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		logger:   log,
	}, nil
}

// ExecutePipeline posts the batch and decodes the result map
func (p *HTTPPipeline) ExecutePipeline(ctx context.Context, companies []tracking.Company, cvReference string, candidateProfile json.RawMessage, userIdentity string) (ResultMap, error) {
	payload := requestPayload{
		Companies:        make([]companyPayload, 0, len(companies)),
		CVReference:      cvReference,
		CandidateProfile: candidateProfile,
		UserIdentity:     userIdentity,
	}
	if len(payload.CandidateProfile) == 0 {
		payload.CandidateProfile = json.RawMessage(`{}`)
	}
	for _, c := range companies {
		payload.Companies = append(payload.Companies, companyPayload{
			ID:                   c.ID,
			DisplayName:          c.DisplayName,
			LastSuccessfulScrape: c.LastSuccessfulScrape,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal pipeline request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send pipeline request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := errors.Newf("pipeline request failed with status %d", resp.StatusCode)
		return nil, errors.WithDetailf(err, "Response: %s", bytes.TrimSpace(snippet))
	}

	var result ResultMap
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode pipeline response")
	}

	p.logger.Debugw("Pipeline call finished",
		"companies", len(companies),
		"results", len(result),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
