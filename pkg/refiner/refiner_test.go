package refiner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// countingEnricher records how often the service pass actually runs
type countingEnricher struct {
	calls  atomic.Int32
	result *Enrichment
	err    error
}

func (e *countingEnricher) Enrich(context.Context, []map[string]interface{}, config.RefineConfig) (*Enrichment, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func baseEnrichment() *Enrichment {
	return &Enrichment{
		FieldDescriptions: map[string]string{
			"email": "customer contact address",
			"total": "order value in cents",
		},
		DataDictionary: map[string][]string{
			"status": {"open", "closed"},
		},
		Entities:    []Entity{{Field: "email", Value: "user@example.com", Kind: "email"}},
		Relations:   []Relation{{From: "email", To: "total", Kind: "belongs_to"}},
		Description: "customer orders with contact details",
	}
}

func refineConfig() config.RefineConfig {
	return config.RefineConfig{
		Enabled:  true,
		Endpoint: "http://enrich.local",
		CacheTTL: time.Hour,
		Timeout:  time.Second,
	}
}

func testRecords() []map[string]interface{} {
	return []map[string]interface{}{
		{"email": "user@example.com", "total": 4200, "status": "open"},
		{"email": "other@example.com", "total": 100, "status": "closed"},
	}
}

func TestRefineCachesByContent(t *testing.T) {
	enricher := &countingEnricher{result: baseEnrichment()}
	r := New(enricher)
	cfg := refineConfig()
	records := testRecords()

	first, err := r.Refine(context.Background(), records, cfg)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, int32(1), enricher.calls.Load())

	second, err := r.Refine(context.Background(), records, cfg)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(1), enricher.calls.Load(), "identical input must not call the service again")
	assert.Equal(t, first.FieldDescriptions, second.FieldDescriptions)

	// Different records miss the cache
	_, err = r.Refine(context.Background(), testRecords()[:1], cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), enricher.calls.Load())

	// Different config misses too
	changed := cfg
	changed.ModelHint = "alt-model"
	_, err = r.Refine(context.Background(), records, changed)
	require.NoError(t, err)
	assert.Equal(t, int32(3), enricher.calls.Load())
}

func TestRefineCacheExpiry(t *testing.T) {
	enricher := &countingEnricher{result: baseEnrichment()}
	r := New(enricher)

	now := time.Now()
	r.cache.now = func() time.Time { return now }

	cfg := refineConfig()
	cfg.CacheTTL = time.Minute
	records := testRecords()

	_, err := r.Refine(context.Background(), records, cfg)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	res, err := r.Refine(context.Background(), records, cfg)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, int32(2), enricher.calls.Load())
}

func TestRefineFailsClosed(t *testing.T) {
	enricher := &countingEnricher{
		err: errors.New(errors.ErrorTypeConnection, "service unavailable"),
	}
	r := New(enricher)

	records := testRecords()
	original := testRecords()

	_, err := r.Refine(context.Background(), records, refineConfig())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRefinement))
	assert.Equal(t, original, records, "records must be untouched on failure")
	assert.Equal(t, 0, r.cache.Len(), "failures are never cached")
}

func TestRefineDisabled(t *testing.T) {
	r := New(&countingEnricher{result: baseEnrichment()})
	_, err := r.Refine(context.Background(), testRecords(), config.RefineConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCustomRulesRunAfterServicePass(t *testing.T) {
	enricher := &countingEnricher{result: baseEnrichment()}
	r := New(enricher)

	cfg := refineConfig()
	cfg.CustomRules = []config.CustomRule{
		{Kind: "rename", Field: "email", Value: "contact_email"},
		{Kind: "annotate", Field: "contact_email", Value: "verified by custom rule"},
		{Kind: "extract", Field: "email", Value: `[\w.]+@[\w.]+`},
	}

	res, err := r.Refine(context.Background(), testRecords(), cfg)
	require.NoError(t, err)

	// Rename saw the enrichment output, proving rule order
	assert.NotContains(t, res.FieldDescriptions, "email")
	assert.Equal(t, "customer contact address", res.FieldDescriptions["contact_email"])
	assert.Equal(t, "contact_email", res.Relations[0].From)

	assert.Equal(t, "verified by custom rule", res.Annotations["contact_email"])

	custom := 0
	for _, e := range res.Entities {
		if e.Kind == "custom" {
			custom++
		}
	}
	assert.Equal(t, 2, custom, "one entity per distinct match")
}

func TestCustomRuleValidation(t *testing.T) {
	r := New(&countingEnricher{result: baseEnrichment()})

	cfg := refineConfig()
	cfg.CustomRules = []config.CustomRule{{Kind: "nonsense", Field: "x", Value: "y"}}
	_, err := r.Refine(context.Background(), testRecords(), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	cfg.CustomRules = []config.CustomRule{{Kind: "extract", Field: "email", Value: "("}}
	_, err = r.Refine(context.Background(), testRecords(), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHTTPEnricher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"field_descriptions": {"id": "row identity"},
			"description": "test data"
		}`))
	}))
	defer srv.Close()

	enricher := NewHTTPEnricher(nil)
	cfg := refineConfig()
	cfg.Endpoint = srv.URL

	enrichment, err := enricher.Enrich(context.Background(), testRecords(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "row identity", enrichment.FieldDescriptions["id"])
	assert.Equal(t, "test data", enrichment.Description)
}

func TestHTTPEnricherSchemaDeviation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	enricher := NewHTTPEnricher(nil)
	cfg := refineConfig()
	cfg.Endpoint = srv.URL

	_, err := enricher.Enrich(context.Background(), testRecords(), cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRefinement))
	assert.False(t, errors.IsRetryable(err))
}
