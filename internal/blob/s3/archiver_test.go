package s3blob

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkarlin/updownbot/internal/domain"
)

type fakeWriter struct {
	keys    []string
	bodies  map[string][]byte
	failing bool
}

func (w *fakeWriter) Write(_ context.Context, key string, data []byte, _ string) error {
	if w.failing {
		return errors.New("upload refused")
	}
	if w.bodies == nil {
		w.bodies = make(map[string][]byte)
	}
	w.keys = append(w.keys, key)
	w.bodies[key] = data
	return nil
}

type fakeFillStore struct {
	fills   []domain.Fill
	deleted bool
}

func (s *fakeFillStore) ListBefore(context.Context, time.Time) ([]domain.Fill, error) {
	return s.fills, nil
}

func (s *fakeFillStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted = true
	return int64(len(s.fills)), nil
}

type emptyOppStore struct{}

func (emptyOppStore) ListBefore(context.Context, time.Time) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}
func (emptyOppStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	panic("must not prune when nothing was listed")
}

type emptyExecStore struct{}

func (emptyExecStore) ListBefore(context.Context, time.Time) ([]domain.Execution, error) {
	return nil, nil
}
func (emptyExecStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	panic("must not prune when nothing was listed")
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestArchiveFillsUploadsThenPrunes(t *testing.T) {
	writer := &fakeWriter{}
	fills := &fakeFillStore{fills: []domain.Fill{
		{ID: "f1", MarketID: "mkt-1", Quantity: 5, Price: 0.52},
		{ID: "f2", MarketID: "mkt-1", Quantity: 3, Price: 0.47},
	}}
	a := NewArchiver(writer, fills, emptyOppStore{}, emptyExecStore{}, discard())

	cutoff := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveFills(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.True(t, fills.deleted)

	require.Equal(t, []string{"archive/fills/2026-08-22.jsonl"}, writer.keys)
	body := string(writer.bodies[writer.keys[0]])
	require.Equal(t, 2, strings.Count(body, "\n"), "one JSON object per line")
	require.Contains(t, body, `"f1"`)
}

func TestArchiveUploadFailureLeavesRows(t *testing.T) {
	writer := &fakeWriter{failing: true}
	fills := &fakeFillStore{fills: []domain.Fill{{ID: "f1"}}}
	a := NewArchiver(writer, fills, emptyOppStore{}, emptyExecStore{}, discard())

	_, err := a.ArchiveFills(context.Background(), time.Now())
	require.Error(t, err)
	require.False(t, fills.deleted, "rows must survive a failed upload")
}

func TestArchiveEmptyStoreIsANoop(t *testing.T) {
	writer := &fakeWriter{}
	a := NewArchiver(writer, &fakeFillStore{}, emptyOppStore{}, emptyExecStore{}, discard())

	n, err := a.ArchiveOpportunities(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, writer.keys)
}
