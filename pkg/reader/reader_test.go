package reader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/models"
)

type stubConnection struct {
	rows   []map[string]interface{}
	failAt int // page number that errors; -1 disables
	closed bool
}

func (c *stubConnection) Query(_ context.Context, _ core.Selector, pageSize int) (core.PageIterator, error) {
	return &stubIterator{conn: c, pageSize: pageSize}, nil
}

func (c *stubConnection) Ping(context.Context) error  { return nil }
func (c *stubConnection) Close(context.Context) error { return nil }

type stubIterator struct {
	conn     *stubConnection
	pageSize int
	offset   int
	page     int
}

func (it *stubIterator) Next(context.Context) (*models.DataPage, error) {
	if it.conn.failAt > 0 && it.page == it.conn.failAt {
		return nil, errors.New(errors.ErrorTypeConnection, "connection lost mid-read")
	}
	if it.offset >= len(it.conn.rows) {
		return nil, nil
	}
	end := it.offset + it.pageSize
	if end > len(it.conn.rows) {
		end = len(it.conn.rows)
	}
	page := &models.DataPage{
		Number:  it.page,
		Rows:    it.conn.rows[it.offset:end],
		HasMore: end < len(it.conn.rows),
	}
	it.offset = end
	it.page++
	return page, nil
}

func (it *stubIterator) Close(context.Context) error {
	it.conn.closed = true
	return nil
}

func makeRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": i, "name": "row"}
	}
	return rows
}

func TestReadPaginates(t *testing.T) {
	conn := &stubConnection{rows: makeRows(25)}
	stream, err := New().Read(context.Background(), conn, core.Selector{Table: "t"}, 10)
	require.NoError(t, err)

	var pages int
	var rows int
	for page := range stream.Pages {
		pages++
		rows += len(page.Rows)
		assert.LessOrEqual(t, len(page.Rows), 10, "page size bounds rows held at once")
	}
	require.NoError(t, <-stream.Errors)

	assert.Equal(t, 3, pages)
	assert.Equal(t, 25, rows)
	assert.True(t, conn.closed, "iterator released after drain")

	stats := stream.Stats()
	assert.Equal(t, int64(25), stats.RowCount)
	assert.Equal(t, 2, stats.ColumnCount)
	assert.Positive(t, stats.ByteSize)
}

func TestReadHasMoreHint(t *testing.T) {
	conn := &stubConnection{rows: makeRows(20)}
	stream, err := New().Read(context.Background(), conn, core.Selector{Table: "t"}, 10)
	require.NoError(t, err)

	var hints []bool
	for page := range stream.Pages {
		hints = append(hints, page.HasMore)
	}
	require.NoError(t, <-stream.Errors)
	assert.Equal(t, []bool{true, false}, hints)
}

func TestReadRejectsNonPositivePageSize(t *testing.T) {
	_, err := New().Read(context.Background(), &stubConnection{}, core.Selector{Table: "t"}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestReadSurfacesMidStreamError(t *testing.T) {
	conn := &stubConnection{rows: makeRows(30), failAt: 2}
	stream, err := New().Read(context.Background(), conn, core.Selector{Table: "t"}, 10)
	require.NoError(t, err)

	var rows int
	for page := range stream.Pages {
		rows += len(page.Rows)
	}
	err = <-stream.Errors
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, 20, rows, "pages before the failure were delivered")
	assert.True(t, conn.closed)
}

func TestReadAll(t *testing.T) {
	conn := &stubConnection{rows: makeRows(7)}
	stream, err := New().Read(context.Background(), conn, core.Selector{Table: "t"}, 3)
	require.NoError(t, err)

	rows, err := ReadAll(stream)
	require.NoError(t, err)
	assert.Len(t, rows, 7)
}

func TestReadCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &stubConnection{rows: makeRows(100)}
	stream, err := New().Read(ctx, conn, core.Selector{Table: "t"}, 10)
	require.NoError(t, err)

	// Take one page, then cancel instead of draining. The producer is
	// blocked handing over the next page and must observe the cancel.
	<-stream.Pages
	cancel()

	err = <-stream.Errors
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	// Channel closure marks full producer teardown
	for range stream.Pages {
	}
	assert.True(t, conn.closed)
}
