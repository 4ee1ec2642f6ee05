package receiver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/json"
	"github.com/ajitpratap0/syncforge/pkg/saver"
	"github.com/ajitpratap0/syncforge/pkg/state"
)

const testSecret = "test-webhook-secret"

func newTestReceiver(t *testing.T) (*Receiver, *saver.Manager) {
	t.Helper()
	cfg := config.NewPipelineConfig("test")
	cfg.Source.TenantID = "tenant-1"
	cfg.Source.SourceID = "src-hook"
	cfg.Source.Kind = config.SourceKindWebhook
	cfg.Source.WebhookSecret = testSecret
	cfg.Save.Strategy = config.SaveStrategyPersistent

	saves := saver.NewManager(saver.NewMemoryRecordStore())
	return New(cfg, state.NewMemoryIdempotencyStore(), saves), saves
}

func jsonPayload(t *testing.T, n int) []byte {
	t.Helper()
	records := make([]map[string]interface{}, n)
	for i := range records {
		records[i] = map[string]interface{}{"id": i + 1, "value": fmt.Sprintf("v-%d", i)}
	}
	raw, err := json.Marshal(records)
	require.NoError(t, err)
	return raw
}

func TestReceiveAcceptsSignedPayload(t *testing.T) {
	r, saves := newTestReceiver(t)
	payload := jsonPayload(t, 3)

	res, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        payload,
		Format:         FormatJSON,
		Signature:      Sign(payload, testSecret),
		IdempotencyKey: "evt-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 3, res.RowsReceived)
	require.NotEmpty(t, res.BatchID)

	records, err := saves.Retrieve(context.Background(), "tenant-1", res.BatchID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	r, _ := newTestReceiver(t)
	payload := jsonPayload(t, 1)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"not hex", "zzzz"},
		{"wrong secret", Sign(payload, "other-secret")},
		{"signature of other payload", Sign([]byte("[]"), testSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Receive(context.Background(), ReceiveRequest{
				Payload:        payload,
				Format:         FormatJSON,
				Signature:      tt.signature,
				IdempotencyKey: "evt-sig",
			})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
		})
	}
}

func TestReceiveSuppressesDuplicates(t *testing.T) {
	r, _ := newTestReceiver(t)
	payload := jsonPayload(t, 2)
	sig := Sign(payload, testSecret)

	first, err := r.Receive(context.Background(), ReceiveRequest{
		Payload: payload, Format: FormatJSON, Signature: sig, IdempotencyKey: "evt-dup",
	})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, 2, first.RowsReceived)

	second, err := r.Receive(context.Background(), ReceiveRequest{
		Payload: payload, Format: FormatJSON, Signature: sig, IdempotencyKey: "evt-dup",
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 0, second.RowsReceived)
}

func TestReceiveConcurrentDuplicates(t *testing.T) {
	r, _ := newTestReceiver(t)
	payload := jsonPayload(t, 1)
	sig := Sign(payload, testSecret)

	const n = 16
	results := make([]*ReceiveResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Receive(context.Background(), ReceiveRequest{
				Payload: payload, Format: FormatJSON, Signature: sig, IdempotencyKey: "evt-race",
			})
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	ingested := 0
	for _, res := range results {
		if res != nil && !res.Duplicate {
			ingested++
		}
	}
	assert.Equal(t, 1, ingested, "exactly one delivery may ingest")
}

func TestReceiveRejectsOversizedBatch(t *testing.T) {
	r, _ := newTestReceiver(t)
	payload := jsonPayload(t, 12000)

	_, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        payload,
		Format:         FormatJSON,
		Signature:      Sign(payload, testSecret),
		IdempotencyKey: "evt-big",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBatchSize))
}

func TestReceiveRetryAfterRejectionIsNotDuplicate(t *testing.T) {
	r, _ := newTestReceiver(t)

	big := jsonPayload(t, 12000)
	_, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        big,
		Format:         FormatJSON,
		Signature:      Sign(big, testSecret),
		IdempotencyKey: "evt-retry",
	})
	require.Error(t, err)
	require.True(t, errors.IsType(err, errors.ErrorTypeBatchSize))

	// A rejected delivery leaves no idempotency record: the sender's
	// corrected redelivery under the same key must ingest normally
	payload := jsonPayload(t, 5)
	res, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        payload,
		Format:         FormatJSON,
		Signature:      Sign(payload, testSecret),
		IdempotencyKey: "evt-retry",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "retry after rejection must not be suppressed")
	assert.Equal(t, 5, res.RowsReceived)
}

func TestReceiveRejectsMalformedPayload(t *testing.T) {
	r, _ := newTestReceiver(t)
	payload := []byte("{not json")

	_, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        payload,
		Format:         FormatJSON,
		Signature:      Sign(payload, testSecret),
		IdempotencyKey: "evt-bad",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestReceiveParsesCSV(t *testing.T) {
	r, saves := newTestReceiver(t)
	payload := []byte("id,name\n1,alice\n2,bob\n")

	res, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        payload,
		Format:         FormatCSV,
		Signature:      Sign(payload, testSecret),
		IdempotencyKey: "evt-csv",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsReceived)

	records, err := saves.Retrieve(context.Background(), "tenant-1", res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "alice", records[0]["name"])
	assert.Equal(t, "2", records[1]["id"])
}

func TestReceiveEnvelopePayload(t *testing.T) {
	r, _ := newTestReceiver(t)
	payload := []byte(`{"records":[{"id":1},{"id":2}]}`)

	res, err := r.Receive(context.Background(), ReceiveRequest{
		Payload:        payload,
		Format:         FormatJSON,
		Signature:      Sign(payload, testSecret),
		IdempotencyKey: "evt-env",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsReceived)
}

func TestWebhookHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r, _ := newTestReceiver(t)

	router := gin.New()
	NewHandler(r).Register(router.Group("/v1"))

	doPost := func(payload []byte, signature, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhook?format=json", bytes.NewReader(payload))
		if signature != "" {
			req.Header.Set(HeaderSignature, signature)
		}
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	payload := jsonPayload(t, 2)

	t.Run("accepted", func(t *testing.T) {
		w := doPost(payload, Sign(payload, testSecret), "http-evt-1")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("duplicate still 200", func(t *testing.T) {
		w := doPost(payload, Sign(payload, testSecret), "http-evt-1")
		assert.Equal(t, http.StatusOK, w.Code)
		var res ReceiveResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res.Duplicate)
	})

	t.Run("bad signature is 401", func(t *testing.T) {
		w := doPost(payload, "deadbeef", "http-evt-2")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("oversized batch is 413", func(t *testing.T) {
		big := jsonPayload(t, 10001)
		w := doPost(big, Sign(big, testSecret), "http-evt-3")
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("malformed payload is 400", func(t *testing.T) {
		bad := []byte("not json")
		w := doPost(bad, Sign(bad, testSecret), "http-evt-4")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
