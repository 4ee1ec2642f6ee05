package refiner

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/clients"
	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
	"github.com/ajitpratap0/syncforge/pkg/logger"
)

// HTTPEnricher calls an enrichment service over HTTP
type HTTPEnricher struct {
	client *clients.HTTPClient
	logger *zap.Logger
}

// NewHTTPEnricher creates an HTTP enricher. A nil client gets the default
// tuned client.
func NewHTTPEnricher(client *clients.HTTPClient) *HTTPEnricher {
	if client == nil {
		client = clients.NewHTTPClient(nil)
	}
	return &HTTPEnricher{
		client: client,
		logger: logger.Get().With(zap.String("component", "enricher")),
	}
}

// enrichRequest is the service wire format
type enrichRequest struct {
	Records   []map[string]interface{} `json:"records"`
	ModelHint string                   `json:"model_hint,omitempty"`
}

// Enrich posts records to the service and decodes the enrichment. A
// response that deviates from the expected schema is a non-retryable
// refinement error.
func (e *HTTPEnricher) Enrich(ctx context.Context, records []map[string]interface{}, cfg config.RefineConfig) (*Enrichment, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "enrichment endpoint is not configured")
	}

	body, err := json.Marshal(enrichRequest{
		Records:   records,
		ModelHint: cfg.ModelHint,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "records are not serializable")
	}

	raw, err := e.client.PostJSON(ctx, cfg.Endpoint, body)
	if err != nil {
		return nil, err
	}

	var enrichment Enrichment
	if err := json.Unmarshal(raw, &enrichment); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRefinement, "enrichment response deviates from the expected schema")
	}
	if enrichment.FieldDescriptions == nil && enrichment.Description == "" &&
		len(enrichment.Entities) == 0 && len(enrichment.Relations) == 0 {
		return nil, errors.New(errors.ErrorTypeRefinement, "enrichment response is empty")
	}

	e.logger.Debug("enrichment received",
		zap.Int("fields", len(enrichment.FieldDescriptions)),
		zap.Int("entities", len(enrichment.Entities)))
	return &enrichment, nil
}
