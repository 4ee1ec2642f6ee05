package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/exporter"
	"github.com/ajitpratap0/syncforge/pkg/models"
	"github.com/ajitpratap0/syncforge/pkg/puller"
	"github.com/ajitpratap0/syncforge/pkg/refiner"
	"github.com/ajitpratap0/syncforge/pkg/saver"
	"github.com/ajitpratap0/syncforge/pkg/state"
)

type memConnection struct {
	rows []map[string]interface{}
}

func (c *memConnection) Query(_ context.Context, sel core.Selector, pageSize int) (core.PageIterator, error) {
	matched := make([]map[string]interface{}, 0, len(c.rows))
	for _, row := range c.rows {
		if sel.CursorField != "" && sel.CursorAfter != nil {
			if state.CompareCursor(row[sel.CursorField], sel.CursorAfter) <= 0 {
				continue
			}
		}
		matched = append(matched, row)
	}
	return &memIterator{rows: matched, pageSize: pageSize}, nil
}

func (c *memConnection) Ping(context.Context) error  { return nil }
func (c *memConnection) Close(context.Context) error { return nil }

type memIterator struct {
	rows     []map[string]interface{}
	pageSize int
	offset   int
	page     int
}

func (it *memIterator) Next(context.Context) (*models.DataPage, error) {
	if it.offset >= len(it.rows) {
		return nil, nil
	}
	end := it.offset + it.pageSize
	if end > len(it.rows) {
		end = len(it.rows)
	}
	page := &models.DataPage{Number: it.page, Rows: it.rows[it.offset:end], HasMore: end < len(it.rows)}
	it.offset = end
	it.page++
	return page, nil
}

func (it *memIterator) Close(context.Context) error { return nil }

type staticEnricher struct{}

func (staticEnricher) Enrich(context.Context, []map[string]interface{}, config.RefineConfig) (*refiner.Enrichment, error) {
	return &refiner.Enrichment{
		FieldDescriptions: map[string]string{"email": "contact address"},
		Description:       "synthetic rows",
	}, nil
}

func TestRunnerEndToEnd(t *testing.T) {
	rows := make([]map[string]interface{}, 30)
	for i := range rows {
		rows[i] = map[string]interface{}{
			"id":    i + 1,
			"email": fmt.Sprintf("user%d@example.com", i),
		}
	}
	conn := &memConnection{rows: rows}

	checkpoints := state.NewMemoryCheckpointStore()
	p := puller.New(checkpoints).WithConnectFunc(
		func(context.Context, *config.SourceConfig) (core.Connection, error) {
			return conn, nil
		})
	saves := saver.NewManager(saver.NewMemoryRecordStore())
	runner := NewRunner(p, saves, refiner.New(staticEnricher{}), exporter.New())

	cfg := config.NewPipelineConfig("e2e")
	cfg.Source.TenantID = "tenant-1"
	cfg.Source.SourceID = "src-e2e"
	cfg.Source.Connector = "postgresql"
	cfg.Acquisition.Table = "users"
	cfg.Acquisition.CheckpointField = "id"
	cfg.Acquisition.PageSize = 10
	cfg.Save.Strategy = config.SaveStrategyPersistent
	cfg.Refine.Enabled = true
	cfg.Refine.Endpoint = "http://enrich.local"
	cfg.Export.Formats = []string{"jsonl"}
	cfg.Export.OutputDir = t.TempDir()
	cfg.Export.DesensitizeFields = []string{"email"}

	res, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(30), res.RecordCount)
	assert.Equal(t, 3, res.Pull.PageCount)
	require.NotNil(t, res.Save)
	require.NotNil(t, res.Refinement)
	require.NotNil(t, res.Export)

	// Checkpoint advanced to the max cursor
	cp, err := checkpoints.Get(context.Background(), "src-e2e")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 30, cp.Cursor)

	// Saved batch is retrievable, unmasked (masking is export-only)
	saved, err := saves.Retrieve(context.Background(), "tenant-1", res.Save.BatchID)
	require.NoError(t, err)
	assert.Len(t, saved, 30)
	assert.Contains(t, saved[0]["email"], "@example.com")

	// Artifact is desensitized and carries the enrichment merge
	require.Len(t, res.Export.Files, 1)
	raw, err := os.ReadFile(res.Export.Files[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "@example.com")
	assert.Contains(t, string(raw), "synthetic rows")

	// A second run pulls only the delta
	res2, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res2.RecordCount)
}

func TestRunnerRefineFailureKeepsSavedRecords(t *testing.T) {
	conn := &memConnection{rows: []map[string]interface{}{{"id": 1}}}
	p := puller.New(state.NewMemoryCheckpointStore()).WithConnectFunc(
		func(context.Context, *config.SourceConfig) (core.Connection, error) {
			return conn, nil
		})
	saves := saver.NewManager(saver.NewMemoryRecordStore())
	runner := NewRunner(p, saves, refiner.New(refiner.NewHTTPEnricher(nil)), exporter.New())

	cfg := config.NewPipelineConfig("fail")
	cfg.Source.TenantID = "tenant-1"
	cfg.Source.SourceID = "src-fail"
	cfg.Source.Connector = "postgresql"
	cfg.Acquisition.Table = "t"
	cfg.Save.Strategy = config.SaveStrategyPersistent
	cfg.Refine.Enabled = true
	cfg.Refine.Endpoint = "" // forces the refinement pass to fail
	cfg.Export.OutputDir = t.TempDir()

	_, err := runner.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "refinement") ||
		strings.Contains(err.Error(), "endpoint"))

	// The save stage completed before refinement; records survive
	batches, err := saves.RetrieveByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Records, 1)
}
