// Package refiner enriches saved records through an external enrichment
// service. Results are cached by content hash so identical inputs under
// identical configuration never invoke the service twice, and
// user-supplied custom rules run as a deterministic pass after the
// service pass so they can reference enrichment output.
package refiner

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/metrics"
)

// Entity is one extracted value of interest
type Entity struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

// Relation links two fields or entities
type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Enrichment is the raw output of the enrichment service
type Enrichment struct {
	// FieldDescriptions maps field name to a natural-language description
	FieldDescriptions map[string]string `json:"field_descriptions"`
	// DataDictionary maps field name to observed value vocabulary
	DataDictionary map[string][]string `json:"data_dictionary"`
	Entities       []Entity            `json:"entities"`
	Relations      []Relation          `json:"relations"`
	// Description is the composed natural-language enhancement summary
	Description string `json:"description"`
}

// RefinementResult is an enrichment after the custom rule pass
type RefinementResult struct {
	Enrichment
	// Annotations collects custom-rule notes per field
	Annotations map[string]string `json:"annotations,omitempty"`
	// CacheHit reports whether the service pass was skipped
	CacheHit bool `json:"cache_hit"`
}

// Enricher calls the external enrichment service
type Enricher interface {
	Enrich(ctx context.Context, records []map[string]interface{}, cfg config.RefineConfig) (*Enrichment, error)
}

// Refiner coordinates enrichment, caching, and custom rules
type Refiner struct {
	enricher Enricher
	cache    *Cache
	logger   *zap.Logger
}

// New creates a refiner over an enricher
func New(enricher Enricher) *Refiner {
	return &Refiner{
		enricher: enricher,
		cache:    NewCache(),
		logger:   logger.Get().With(zap.String("component", "refiner")),
	}
}

// Refine enriches records. The refinement pass fails closed: on any
// enrichment failure the caller's records are untouched and the error
// carries full context.
func (r *Refiner) Refine(ctx context.Context, records []map[string]interface{}, cfg config.RefineConfig) (*RefinementResult, error) {
	if !cfg.Enabled {
		return nil, errors.New(errors.ErrorTypeConfig, "refinement is not enabled for this pipeline")
	}

	key, err := cacheKey(records, cfg)
	if err != nil {
		return nil, err
	}

	if cached, ok := r.cache.Get(key); ok {
		metrics.RefinementCache.WithLabelValues("hit").Inc()
		r.logger.Debug("refinement served from cache", zap.String("key", key))
		hit := *cached
		hit.CacheHit = true
		return &hit, nil
	}
	metrics.RefinementCache.WithLabelValues("miss").Inc()

	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	enrichment, err := r.enricher.Enrich(callCtx, records, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRefinement, "enrichment service pass failed").
			WithDetail("records", len(records))
	}
	if enrichment == nil {
		return nil, errors.New(errors.ErrorTypeRefinement, "enrichment service returned no result")
	}

	result := &RefinementResult{Enrichment: *enrichment}
	if err := applyCustomRules(result, records, cfg.CustomRules); err != nil {
		return nil, err
	}

	r.cache.Put(key, result, cfg.CacheTTL)
	return result, nil
}

// applyCustomRules runs the user-supplied deterministic pass, strictly
// after enrichment, in rule order
func applyCustomRules(result *RefinementResult, records []map[string]interface{}, rules []config.CustomRule) error {
	for _, rule := range rules {
		switch rule.Kind {
		case "rename":
			renameField(result, rule.Field, rule.Value)
		case "annotate":
			if result.Annotations == nil {
				result.Annotations = make(map[string]string)
			}
			result.Annotations[rule.Field] = rule.Value
		case "extract":
			if err := extractEntities(result, records, rule); err != nil {
				return err
			}
		default:
			return errors.New(errors.ErrorTypeValidation, "unknown custom rule kind").
				WithDetail("kind", rule.Kind)
		}
	}
	return nil
}

func renameField(result *RefinementResult, from, to string) {
	if desc, ok := result.FieldDescriptions[from]; ok {
		delete(result.FieldDescriptions, from)
		result.FieldDescriptions[to] = desc
	}
	if vocab, ok := result.DataDictionary[from]; ok {
		delete(result.DataDictionary, from)
		result.DataDictionary[to] = vocab
	}
	for i := range result.Entities {
		if result.Entities[i].Field == from {
			result.Entities[i].Field = to
		}
	}
	for i := range result.Relations {
		if result.Relations[i].From == from {
			result.Relations[i].From = to
		}
		if result.Relations[i].To == from {
			result.Relations[i].To = to
		}
	}
}

func extractEntities(result *RefinementResult, records []map[string]interface{}, rule config.CustomRule) error {
	re, err := regexp.Compile(rule.Value)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid extract rule pattern").
			WithDetail("field", rule.Field).
			WithDetail("pattern", rule.Value)
	}

	seen := make(map[string]struct{})
	for _, record := range records {
		str, ok := record[rule.Field].(string)
		if !ok {
			continue
		}
		for _, match := range re.FindAllString(str, -1) {
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			result.Entities = append(result.Entities, Entity{
				Field: rule.Field,
				Value: match,
				Kind:  "custom",
			})
		}
	}
	return nil
}
