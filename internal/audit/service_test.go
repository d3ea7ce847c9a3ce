package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows       []TimelineRow
	err        error
	calls      int
	lastFilter TimelineFilters
	lastOffset int
	lastLimit  int
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	s.calls++
	s.lastFilter, s.lastOffset, s.lastLimit = filters, offset, limit
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func rowsAt(n int) []TimelineRow {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]TimelineRow, n)
	for i := range out {
		out[i] = TimelineRow{ID: int64(i + 1), At: base.Add(time.Duration(i) * time.Minute), Action: "GRN_CREATE", Entity: "grn", EntityID: "g"}
	}
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: rowsAt(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{EntityIDs: []string{"g"}, Page: 2, PageSize: 2, Action: " grn_create "})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, PagingInfo{Page: 2, PageSize: 2, HasNext: true, PrevPage: 1, NextPage: 3}, result.Paging)
	require.Equal(t, 2, repo.lastOffset)
	require.Equal(t, 3, repo.lastLimit)
	require.Equal(t, "GRN_CREATE", repo.lastFilter.Action)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{rows: rowsAt(1)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{EntityIDs: []string{"g"}, PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.Equal(t, maxPageSize+1, repo.lastLimit)
	require.False(t, result.Paging.HasNext)

	result, err = svc.Timeline(context.Background(), TimelineFilters{EntityIDs: []string{"g"}})
	require.NoError(t, err)
	require.Equal(t, PagingInfo{Page: 1, PageSize: defaultPageSize}, result.Paging)
}

func TestServiceTimelineWithoutRecords(t *testing.T) {
	repo := &stubTimelineRepo{rows: rowsAt(2)}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Empty(t, result.Rows)
	require.NotNil(t, result.Rows)
	require.Zero(t, repo.calls)
}

func TestServiceTimelineErrors(t *testing.T) {
	repo := &stubTimelineRepo{err: errors.New("timeout")}
	_, err := NewService(repo).Timeline(context.Background(), TimelineFilters{EntityIDs: []string{"g"}})
	require.Error(t, err)

	var unconfigured *Service
	_, err = unconfigured.Timeline(context.Background(), TimelineFilters{EntityIDs: []string{"g"}})
	require.Error(t, err)
}
