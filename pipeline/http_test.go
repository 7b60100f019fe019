package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/internal/httpclient"
	"github.com/teranos/watchtower/tracking"
)

func newTestPipeline(t *testing.T, handler http.HandlerFunc) *HTTPPipeline {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewHTTPPipeline(Config{
		Endpoint:            srv.URL + "/run",
		APIKey:              "secret-key",
		AllowPrivateNetwork: true, // httptest listens on loopback
	})
	require.NoError(t, err)
	return p
}

func TestExecutePipeline_Success(t *testing.T) {
	scraped := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	var got requestPayload
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"acme":{"matches":3}}`))
	})

	result, err := p.ExecutePipeline(context.Background(),
		[]tracking.Company{{ID: "acme", DisplayName: "Acme", LastSuccessfulScrape: &scraped}},
		"cv/alice", json.RawMessage(`{"skills":["go"]}`), "alice@example.com")
	require.NoError(t, err)

	require.Contains(t, result, "acme")
	assert.JSONEq(t, `{"matches":3}`, string(result["acme"]))

	require.Len(t, got.Companies, 1)
	assert.Equal(t, "acme", got.Companies[0].ID)
	require.NotNil(t, got.Companies[0].LastSuccessfulScrape)
	assert.True(t, got.Companies[0].LastSuccessfulScrape.Equal(scraped))
	assert.Equal(t, "cv/alice", got.CVReference)
	assert.Equal(t, "alice@example.com", got.UserIdentity)
	assert.JSONEq(t, `{"skills":["go"]}`, string(got.CandidateProfile))
}

func TestExecutePipeline_EmptyProfileSendsObject(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.JSONEq(t, `{}`, string(raw["candidate_profile"]))
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := p.ExecutePipeline(context.Background(), []tracking.Company{{ID: "acme"}}, "", nil, "")
	require.NoError(t, err)
}

func TestExecutePipeline_ErrorStatus(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scraper crashed", http.StatusBadGateway)
	})

	_, err := p.ExecutePipeline(context.Background(), []tracking.Company{{ID: "acme"}}, "", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, errors.FlattenDetails(err), "scraper crashed")
}

func TestExecutePipeline_BadJSON(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := p.ExecutePipeline(context.Background(), []tracking.Company{{ID: "acme"}}, "", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode pipeline response")
}

func TestExecutePipeline_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.ExecutePipeline(ctx, []tracking.Company{{ID: "acme"}}, "", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestNewHTTPPipeline_Validation(t *testing.T) {
	_, err := NewHTTPPipeline(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = NewHTTPPipeline(Config{Endpoint: "http://127.0.0.1:9000/run"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpclient.ErrBlocked))

	_, err = NewHTTPPipeline(Config{Endpoint: "ftp://pipeline.example.com", AllowPrivateNetwork: true})
	assert.Error(t, err)
}

func TestConfigFromAm(t *testing.T) {
	cfg := ConfigFromAm(&am.Config{Pipeline: am.PipelineConfig{
		Endpoint:            "https://pipeline.example.com/run",
		APIKey:              "k",
		AllowPrivateNetwork: false,
	}})
	assert.Equal(t, "https://pipeline.example.com/run", cfg.Endpoint)
	assert.Equal(t, "k", cfg.APIKey)
	assert.False(t, cfg.AllowPrivateNetwork)
}

func TestFunc(t *testing.T) {
	var p Pipeline = Func(func(ctx context.Context, companies []tracking.Company, cv string, profile json.RawMessage, identity string) (ResultMap, error) {
		return ResultMap{companies[0].ID: json.RawMessage(`true`)}, nil
	})
	res, err := p.ExecutePipeline(context.Background(), []tracking.Company{{ID: "x"}}, "", nil, "")
	require.NoError(t, err)
	assert.Contains(t, res, "x")
}
