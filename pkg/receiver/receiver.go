// Package receiver validates and ingests push/webhook payloads. Every
// delivery passes signature verification, duplicate suppression, format
// parsing, and a hard batch-size ceiling, in that order, before any
// record is handed to the save strategy manager.
package receiver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/metrics"
	"github.com/ajitpratap0/syncforge/pkg/saver"
	"github.com/ajitpratap0/syncforge/pkg/state"
)

// PayloadFormat names the wire encodings accepted on the push boundary
type PayloadFormat string

const (
	FormatJSON PayloadFormat = "json"
	FormatCSV  PayloadFormat = "csv"
)

// idempotencyTTL bounds how long a delivery key suppresses duplicates
const idempotencyTTL = 24 * time.Hour

// ReceiveRequest is one webhook delivery
type ReceiveRequest struct {
	// Payload is the raw request body; the signature covers these exact
	// bytes
	Payload []byte
	Format  PayloadFormat
	// Signature is the hex HMAC-SHA256 of Payload under the source secret
	Signature      string
	IdempotencyKey string
}

// ReceiveResult reports the outcome of one delivery
type ReceiveResult struct {
	Duplicate    bool   `json:"duplicate"`
	RowsReceived int    `json:"rows_received"`
	BatchID      string `json:"batch_id,omitempty"`
}

// Receiver ingests webhook payloads for one configured source
type Receiver struct {
	cfg         *config.PipelineConfig
	idempotency state.IdempotencyStore
	saves       *saver.Manager
	logger      *zap.Logger
}

// New creates a receiver bound to a source configuration
func New(cfg *config.PipelineConfig, idempotency state.IdempotencyStore, saves *saver.Manager) *Receiver {
	return &Receiver{
		cfg:         cfg,
		idempotency: idempotency,
		saves:       saves,
		logger: logger.Get().With(
			zap.String("component", "receiver"),
			zap.String("source_id", cfg.Source.SourceID)),
	}
}

// Receive processes one delivery. Steps run strictly in order: an invalid
// signature means the payload is never parsed or stored; a duplicate key
// short-circuits before parsing; an oversized batch is rejected in full
// with no partial ingestion. The idempotency key is recorded only once
// the payload has passed every validation step.
func (r *Receiver) Receive(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error) {
	if err := r.verifySignature(req.Payload, req.Signature); err != nil {
		metrics.WebhookReceipts.WithLabelValues("auth_failed").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		metrics.WebhookReceipts.WithLabelValues("rejected").Inc()
		return nil, errors.New(errors.ErrorTypeValidation, "idempotency key is required")
	}

	seen, err := r.idempotency.Check(ctx, req.IdempotencyKey)
	if err != nil {
		metrics.WebhookReceipts.WithLabelValues("error").Inc()
		return nil, err
	}
	if seen {
		r.logger.Info("duplicate delivery suppressed",
			zap.String("idempotency_key", req.IdempotencyKey))
		metrics.WebhookReceipts.WithLabelValues("duplicate").Inc()
		return &ReceiveResult{Duplicate: true, RowsReceived: 0}, nil
	}

	records, err := parsePayload(req.Payload, req.Format)
	if err != nil {
		metrics.WebhookReceipts.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ceiling := r.cfg.Acquisition.MaxBatchRecords
	if len(records) > ceiling {
		metrics.WebhookReceipts.WithLabelValues("rejected").Inc()
		return nil, errors.New(errors.ErrorTypeBatchSize, "payload exceeds the batch record ceiling").
			WithDetail("records", len(records)).
			WithDetail("ceiling", ceiling)
	}

	// The key is recorded only after the payload has fully passed
	// validation: a rejected delivery leaves no record, so a corrected
	// redelivery under the same key still ingests. The atomic set keeps
	// concurrent same-key deliveries at-most-once.
	fresh, err := r.idempotency.CheckAndRecord(ctx, req.IdempotencyKey, idempotencyTTL)
	if err != nil {
		metrics.WebhookReceipts.WithLabelValues("error").Inc()
		return nil, err
	}
	if !fresh {
		r.logger.Info("duplicate delivery suppressed",
			zap.String("idempotency_key", req.IdempotencyKey))
		metrics.WebhookReceipts.WithLabelValues("duplicate").Inc()
		return &ReceiveResult{Duplicate: true, RowsReceived: 0}, nil
	}

	saveRes, err := r.saves.Save(ctx, saver.SaveRequest{
		TenantID: r.cfg.Source.TenantID,
		SourceID: r.cfg.Source.SourceID,
		RunID:    req.IdempotencyKey,
		Records:  records,
	}, r.cfg.Save)
	if err != nil {
		metrics.WebhookReceipts.WithLabelValues("error").Inc()
		return nil, err
	}

	r.logger.Info("delivery ingested",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Int("records", len(records)))
	metrics.WebhookReceipts.WithLabelValues("accepted").Inc()

	return &ReceiveResult{
		RowsReceived: len(records),
		BatchID:      saveRes.BatchID,
	}, nil
}

// verifySignature checks the hex HMAC-SHA256 of the raw payload in
// constant time
func (r *Receiver) verifySignature(payload []byte, signature string) error {
	secret := r.cfg.Source.WebhookSecret
	if secret == "" {
		return errors.New(errors.ErrorTypeConfig, "source has no webhook secret configured")
	}
	if signature == "" {
		return errors.New(errors.ErrorTypeAuthentication, "missing payload signature")
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New(errors.ErrorTypeAuthentication, "malformed payload signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return errors.New(errors.ErrorTypeAuthentication, "payload signature mismatch")
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature senders must attach
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parsePayload decodes the payload into row maps
func parsePayload(payload []byte, format PayloadFormat) ([]map[string]interface{}, error) {
	switch format {
	case FormatJSON:
		return parseJSON(payload)
	case FormatCSV:
		return parseCSV(payload)
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "unsupported payload format").
			WithDetail("format", string(format))
	}
}

// parseJSON accepts either a bare array of objects or an envelope with a
// records field
func parseJSON(payload []byte) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	if err := json.Unmarshal(payload, &records); err == nil {
		return records, nil
	}

	var envelope struct {
		Records []map[string]interface{} `json:"records"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Records == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "payload is not valid JSON records")
	}
	return envelope.Records, nil
}

// parseCSV decodes header-first tabular text into row maps
func parseCSV(payload []byte) ([]map[string]interface{}, error) {
	rd := csv.NewReader(bytes.NewReader(payload))

	header, err := rd.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "payload has no CSV header")
	}

	var records []map[string]interface{}
	for {
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "malformed CSV row")
		}
		record := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}
