package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/lifecycle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_JournalsRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := StartRun(ctx, store, discardLogger(), "shop", "up", []string{"web"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.RunID())

	var wg sync.WaitGroup
	for _, inst := range []string{"shop_db_1", "shop_api_1", "shop_web_1"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := lifecycle.Event{Verb: lifecycle.VerbStart, Service: "svc", Instance: inst, Status: lifecycle.StatusOK, Message: "Started", Duration: time.Second}
			rec.Started(ev)
			rec.Finished(ev)
		}()
	}
	wg.Wait()

	require.NoError(t, rec.Finish(ctx, nil))

	run, err := store.GetRun(ctx, rec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunOK, run.Status)
	assert.Equal(t, "up", run.Command)
	assert.NotNil(t, run.FinishedAt)

	events, err := store.ListEvents(ctx, rec.RunID())
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, "start", ev.Verb)
		assert.Equal(t, time.Second, ev.Duration)
	}
}

func TestRecorder_FailureUsesErrorText(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := StartRun(ctx, store, nil, "shop", "stop", nil)
	require.NoError(t, err)

	rec.Finished(lifecycle.Event{
		Verb:     lifecycle.VerbStop,
		Service:  "web",
		Instance: "shop_web_1",
		Status:   lifecycle.StatusError,
		Message:  "Error",
		Err:      errors.New("engine unavailable"),
	})
	require.NoError(t, rec.Finish(ctx, errors.New("stop failed")))

	run, err := store.GetRun(ctx, rec.RunID())
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "stop failed", run.Error)

	events, err := store.ListEvents(ctx, rec.RunID())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "engine unavailable", events[0].Message)
	assert.Equal(t, "error", events[0].Status)
}

func TestRecorder_SatisfiesReporter(t *testing.T) {
	var _ lifecycle.Reporter = (*Recorder)(nil)
}
