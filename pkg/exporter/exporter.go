// Package exporter turns saved or refined records into AI-friendly
// dataset artifacts. The pipeline is strictly ordered: enrichment merge,
// optional desensitization, seeded split, serialization, statistics.
package exporter

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/compression"
	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/metrics"
	"github.com/ajitpratap0/syncforge/pkg/refiner"
)

// maskValue replaces desensitized field values
const maskValue = "***"

// defaultSplitName holds all records when no split is configured
const defaultSplitName = "all"

// SplitStats counts one emitted subset
type SplitStats struct {
	Rows  int   `json:"rows"`
	Bytes int64 `json:"bytes"`
}

// FieldStats summarizes one field across the exported records
type FieldStats struct {
	NonNull  int `json:"non_null"`
	Distinct int `json:"distinct"`
}

// Statistics is the export report
type Statistics struct {
	TotalRows  int                   `json:"total_rows"`
	TotalBytes int64                 `json:"total_bytes"`
	Splits     map[string]SplitStats `json:"splits"`
	Fields     map[string]FieldStats `json:"fields"`
	Duration   time.Duration         `json:"duration"`
}

// ExportResult describes a finished export
type ExportResult struct {
	ExportID   string     `json:"export_id"`
	SourceID   string     `json:"source_id,omitempty"`
	Formats    []string   `json:"formats"`
	Files      []string   `json:"files"`
	Statistics Statistics `json:"statistics"`
}

// ExportRequest carries the records and their provenance
type ExportRequest struct {
	SourceID string
	Records  []map[string]interface{}
	// Refinement, when present, is merged additively before masking
	Refinement *refiner.RefinementResult
}

// Exporter serializes record sets into dataset artifacts
type Exporter struct {
	markers MarkerStore
	logger  *zap.Logger
}

// New creates an exporter with in-memory incremental markers
func New() *Exporter {
	return NewWithMarkers(NewMemoryMarkerStore())
}

// NewWithMarkers creates an exporter over a marker store
func NewWithMarkers(markers MarkerStore) *Exporter {
	return &Exporter{
		markers: markers,
		logger:  logger.Get().With(zap.String("component", "exporter")),
	}
}

// Export runs the full pipeline and writes one artifact per split and
// format under the output directory.
func (e *Exporter) Export(ctx context.Context, req ExportRequest, cfg config.ExportConfig) (*ExportResult, error) {
	start := time.Now()

	if len(cfg.Formats) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "at least one export format is required")
	}
	for _, format := range cfg.Formats {
		if _, ok := serializers[format]; !ok {
			return nil, errors.New(errors.ErrorTypeValidation, "unsupported export format").
				WithDetail("format", format)
		}
	}
	codec, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, err
	}

	// 1. Enrichment merge: enhanced fields are additive, original fields
	// are never dropped
	records := mergeRefinement(req.Records, req.Refinement)

	// 2. Desensitization is opt-in; when requested it runs before any
	// split so every subset is equally masked
	if cfg.Desensitize || len(cfg.DesensitizeFields) > 0 {
		records = desensitize(records, cfg.DesensitizeFields)
	}

	// 3. Seeded split
	splits, err := splitRecords(records, cfg.Splits, cfg.Seed)
	if err != nil {
		return nil, err
	}

	exportID := uuid.NewString()
	dir := filepath.Join(cfg.OutputDir, exportID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create export directory").
			WithDetail("dir", dir)
	}

	result := &ExportResult{
		ExportID: exportID,
		SourceID: req.SourceID,
		Formats:  append([]string(nil), cfg.Formats...),
		Statistics: Statistics{
			TotalRows: len(records),
			Splits:    make(map[string]SplitStats, len(splits)),
			Fields:    fieldStatistics(records),
		},
	}

	// 4. Serialization per split and format
	for _, split := range sortedSplitNames(splits) {
		rows := splits[split]
		stats := SplitStats{Rows: len(rows)}
		for _, format := range cfg.Formats {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "export cancelled")
			default:
			}

			path, written, err := e.writeArtifact(dir, split, format, codec, rows)
			if err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)
			stats.Bytes += written
			metrics.ExportBytes.WithLabelValues(format).Add(float64(written))
		}
		result.Statistics.Splits[split] = stats
		result.Statistics.TotalBytes += stats.Bytes
	}

	// 5. Statistics report
	result.Statistics.Duration = time.Since(start)

	e.logger.Info("export complete",
		zap.String("export_id", exportID),
		zap.Int("rows", result.Statistics.TotalRows),
		zap.Int64("bytes", result.Statistics.TotalBytes),
		zap.Strings("formats", cfg.Formats))
	return result, nil
}

// ExportIncremental restricts the input to records with a marker field
// value newer than the last recorded export marker, then advances the
// marker on success.
func (e *Exporter) ExportIncremental(ctx context.Context, req ExportRequest, cfg config.ExportConfig, markerField string) (*ExportResult, error) {
	if markerField == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "incremental export requires a marker field")
	}
	if req.SourceID == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "incremental export requires a source id")
	}

	marker, err := e.markers.Get(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}

	fresh, maxSeen := filterNewer(req.Records, markerField, marker)
	filtered := req
	filtered.Records = fresh

	result, err := e.Export(ctx, filtered, cfg)
	if err != nil {
		return nil, err
	}

	if maxSeen != nil {
		if err := e.markers.Put(ctx, req.SourceID, maxSeen); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// writeArtifact serializes one split in one format, through the codec
func (e *Exporter) writeArtifact(dir, split, format string, codec compression.Algorithm, rows []map[string]interface{}) (string, int64, error) {
	name := fmt.Sprintf("%s.%s%s", split, extensionFor(format), codec.Extension())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create artifact").
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	cw, err := compression.NewWriter(codec, f)
	if err != nil {
		return "", 0, err
	}
	if err := serializers[format](cw, rows); err != nil {
		return "", 0, err
	}
	if err := cw.Close(); err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish artifact")
	}
	if err := f.Close(); err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finish artifact")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to stat artifact")
	}
	return path, info.Size(), nil
}

// mergeRefinement adds enrichment output onto a copy of the records
func mergeRefinement(records []map[string]interface{}, refinement *refiner.RefinementResult) []map[string]interface{} {
	out := make([]map[string]interface{}, len(records))
	for i, record := range records {
		merged := make(map[string]interface{}, len(record)+2)
		for k, v := range record {
			merged[k] = v
		}
		out[i] = merged
	}
	if refinement == nil {
		return out
	}

	for i := range out {
		if refinement.Description != "" {
			out[i]["_enhancement"] = refinement.Description
		}
		for field, desc := range refinement.FieldDescriptions {
			// Additive only: a description never shadows a data field
			key := "_desc_" + field
			if _, exists := out[i][key]; !exists {
				out[i][key] = desc
			}
		}
	}
	return out
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[ -]?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{2,4}`)
)

// desensitize masks configured fields on copies of the records. String
// values in the remaining fields additionally get email and phone values
// masked in place, so PII never reaches an artifact through an
// unconfigured field.
func desensitize(records []map[string]interface{}, fields []string) []map[string]interface{} {
	masked := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		masked[f] = struct{}{}
	}

	out := make([]map[string]interface{}, len(records))
	for i, record := range records {
		clone := make(map[string]interface{}, len(record))
		for k, v := range record {
			_, hit := masked[k]
			switch {
			case hit && v != nil:
				clone[k] = maskValue
			default:
				if s, ok := v.(string); ok {
					clone[k] = maskPatterns(s)
				} else {
					clone[k] = v
				}
			}
		}
		out[i] = clone
	}
	return out
}

// maskPatterns replaces email addresses and phone numbers inside a string
func maskPatterns(s string) string {
	s = emailPattern.ReplaceAllString(s, maskValue)
	return phonePattern.ReplaceAllString(s, maskValue)
}

// splitRecords shuffles with the seed and allocates subset sizes by
// largest remainder, so emitted sizes stay within one record of the exact
// ratio share
func splitRecords(records []map[string]interface{}, ratios map[string]float64, seed int64) (map[string][]map[string]interface{}, error) {
	if len(ratios) == 0 {
		return map[string][]map[string]interface{}{defaultSplitName: records}, nil
	}

	var sum float64
	names := make([]string, 0, len(ratios))
	for name, ratio := range ratios {
		if ratio <= 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "split ratios must be positive").
				WithDetail("split", name)
		}
		sum += ratio
		names = append(names, name)
	}
	if sum < 0.999999 || sum > 1.000001 {
		return nil, errors.New(errors.ErrorTypeValidation, "split ratios must sum to 1.0").
			WithDetail("sum", sum)
	}
	sort.Strings(names)

	shuffled := make([]map[string]interface{}, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := len(shuffled)
	counts := make(map[string]int, len(names))
	type remainder struct {
		name string
		frac float64
	}
	remainders := make([]remainder, 0, len(names))
	allocated := 0
	for _, name := range names {
		exact := ratios[name] * float64(n)
		base := int(exact)
		counts[name] = base
		allocated += base
		remainders = append(remainders, remainder{name, exact - float64(base)})
	}
	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].frac > remainders[j].frac
	})
	for i := 0; allocated < n; i++ {
		counts[remainders[i%len(remainders)].name]++
		allocated++
	}

	out := make(map[string][]map[string]interface{}, len(names))
	offset := 0
	for _, name := range names {
		out[name] = shuffled[offset : offset+counts[name]]
		offset += counts[name]
	}
	return out, nil
}

// filterNewer keeps records whose marker field exceeds the marker and
// reports the maximum value observed
func filterNewer(records []map[string]interface{}, field string, marker interface{}) ([]map[string]interface{}, interface{}) {
	var out []map[string]interface{}
	maxSeen := marker
	for _, record := range records {
		value, ok := record[field]
		if !ok {
			continue
		}
		if marker == nil || compareMarker(value, marker) > 0 {
			out = append(out, record)
		}
		if maxSeen == nil || compareMarker(value, maxSeen) > 0 {
			maxSeen = value
		}
	}
	return out, maxSeen
}

// fieldStatistics computes per-field non-null and distinct counts
func fieldStatistics(records []map[string]interface{}) map[string]FieldStats {
	nonNull := make(map[string]int)
	distinct := make(map[string]map[string]struct{})
	for _, record := range records {
		for k, v := range record {
			if v == nil {
				continue
			}
			nonNull[k]++
			if distinct[k] == nil {
				distinct[k] = make(map[string]struct{})
			}
			distinct[k][fmt.Sprint(v)] = struct{}{}
		}
	}

	out := make(map[string]FieldStats, len(nonNull))
	for k, count := range nonNull {
		out[k] = FieldStats{NonNull: count, Distinct: len(distinct[k])}
	}
	return out
}

func sortedSplitNames(splits map[string][]map[string]interface{}) []string {
	names := make([]string, 0, len(splits))
	for name := range splits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
