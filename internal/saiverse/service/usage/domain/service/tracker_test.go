package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/entity"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]*entity.Record
	err     error
}

func (s *fakeSink) InsertRecords(_ context.Context, records []*entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

func (s *fakeSink) inserted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *fakeSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func TestTrackerRecordAndFlush(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker(sink, time.Hour)

	tr.Record(&entity.Record{PersonaID: "p1", ModelID: "gpt-4o", InputTokens: 10})
	tr.Record(&entity.Record{PersonaID: "p1", ModelID: "gpt-4o", OutputTokens: 5})
	assert.Equal(t, 2, tr.Pending())

	tr.Flush(context.Background())
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 2, sink.inserted())

	// A record without a timestamp is stamped on Record.
	require.Len(t, sink.batches, 1)
	assert.False(t, sink.batches[0][0].Timestamp.IsZero())
}

func TestTrackerFlushEmptyBufferSkipsSink(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker(sink, time.Hour)

	tr.Flush(context.Background())
	assert.Empty(t, sink.batches)
}

func TestTrackerRebuffersOnSinkFailure(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker(sink, time.Hour)
	sink.fail(errors.New("disk full"))

	tr.Record(&entity.Record{PersonaID: "p1", ModelID: "gpt-4o"})
	tr.Flush(context.Background())
	assert.Equal(t, 1, tr.Pending())

	sink.fail(nil)
	tr.Flush(context.Background())
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 1, sink.inserted())
}

func TestTrackerCloseFlushes(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker(sink, time.Hour)
	tr.Start(context.Background())

	tr.Record(&entity.Record{PersonaID: "p1", ModelID: "gpt-4o"})
	tr.Close(context.Background())

	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 1, sink.inserted())
}
