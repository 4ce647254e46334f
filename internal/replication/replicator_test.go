package replication

import (
	"context"
	"testing"
	"time"

	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangingStore never answers the changes feed.
type hangingStore struct {
	*store.MemoryStore
}

func (h hangingStore) Changes(ctx context.Context, req store.ChangesRequest) (*store.ChangesResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReplicate_OneShot(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore("src")
	dst := store.NewMemoryStore("dst")

	for _, id := range []string{"A", "B", "C"} {
		putStory(t, src, id)
	}
	_, err := src.Put(ctx, &model.Document{ID: "snap", Fields: map[string]any{"type": model.TypeStorySnapshot}})
	require.NoError(t, err)

	var events []Event
	var checkpoint string
	written, err := Replicate(ctx, src, dst, DirectionPull, Options{
		Filter:       SessionConfig{Bootstrap: true}.Filter(),
		BatchSize:    2,
		OnCheckpoint: func(seq string) { checkpoint = seq },
	}, func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, "4", checkpoint)
	assert.False(t, hasDoc(dst, "snap"))

	require.NotEmpty(t, events)
	assert.Equal(t, EventActive, events[0].Type)
	assert.Equal(t, 4, events[0].Pending)
	for _, ev := range events[1:] {
		assert.Equal(t, EventChange, ev.Type)
	}

	// resuming from the checkpoint transfers nothing
	written, err = Replicate(ctx, src, dst, DirectionPull, Options{Since: checkpoint}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	// replicating everything again writes nothing new
	written, err = Replicate(ctx, src, dst, DirectionPull, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, written, "only the snapshot was missing")
}

func TestReplicate_RequestTimeout(t *testing.T) {
	src := hangingStore{store.NewMemoryStore("src")}
	dst := store.NewMemoryStore("dst")

	var errs []error
	start := time.Now()
	_, err := Replicate(context.Background(), src, dst, DirectionPull, Options{Timeout: 20 * time.Millisecond}, func(ev Event) {
		if ev.Type == EventError {
			errs = append(errs, ev.Err)
		}
	})

	assert.Equal(t, store.KindTimeout, store.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, errs, 1)
}

func TestReplicate_LiveCancel(t *testing.T) {
	src := store.NewMemoryStore("src")
	dst := store.NewMemoryStore("dst")

	ctx, cancel := context.WithCancel(context.Background())
	paused := make(chan struct{}, 10)

	done := make(chan error, 1)
	go func() {
		_, err := Replicate(ctx, src, dst, DirectionPush, Options{Live: true, PollInterval: 5 * time.Millisecond}, func(ev Event) {
			if ev.Type == EventPaused {
				paused <- struct{}{}
			}
		})
		done <- err
	}()

	<-paused
	putStory(t, src, "late")
	require.Eventually(t, func() bool { return hasDoc(dst, "late") }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("replication did not stop")
	}
}
