// ABOUTME: Tests for scheduled purges of soft-deleted messages
// ABOUTME: Uses the in-memory mock store with a controllable clock

package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/discuss-gateway/internal/store"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Cron: "not a cron"}, store.NewMockStore(), nil, nil)
	assert.Error(t, err)

	rm, err := New(Config{}, store.NewMockStore(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCron, rm.cfg.Cron)
	assert.Equal(t, DefaultTTL, rm.cfg.TTL)
}

func TestRunOnce_PurgesOnlyExpired(t *testing.T) {
	ctx := t.Context()
	ms := store.NewMockStore()

	old, err := ms.Append(ctx, store.AppendParams{TopicID: "t", Author: store.Author{ID: "u"}, Body: "old"})
	require.NoError(t, err)
	recent, err := ms.Append(ctx, store.AppendParams{TopicID: "t", Author: store.Author{ID: "u"}, Body: "recent"})
	require.NoError(t, err)
	_, err = ms.Append(ctx, store.AppendParams{TopicID: "t", Author: store.Author{ID: "u"}, Body: "live"})
	require.NoError(t, err)

	_, err = ms.SoftDelete(ctx, old.ID, "u")
	require.NoError(t, err)
	_, err = ms.SoftDelete(ctx, recent.ID, "u")
	require.NoError(t, err)

	rm, err := New(Config{Enabled: true, TTL: time.Hour}, ms, nil, nil)
	require.NoError(t, err)

	// Nothing has been deleted for an hour yet
	n, err := rm.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = rm.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = ms.GetMessage(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	count, err := ms.CountMessages(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunOnce_StoreError(t *testing.T) {
	ms := store.NewMockStore()
	ms.FailNext("PurgeDeleted", store.ErrInjected)

	rm, err := New(Config{Enabled: true}, ms, nil, nil)
	require.NoError(t, err)

	_, err = rm.RunOnce(t.Context())
	assert.ErrorIs(t, err, store.ErrInjected)
}

type blockingPurger struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingPurger) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return 0, nil
}

func TestRunOnce_NoOverlap(t *testing.T) {
	p := &blockingPurger{started: make(chan struct{}), release: make(chan struct{})}
	rm, err := New(Config{Enabled: true}, p, nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rm.RunOnce(t.Context())
	}()
	<-p.started

	_, err = rm.RunOnce(t.Context())
	assert.ErrorIs(t, err, ErrRunning)

	close(p.release)
	<-done
}

func TestRun_DisabledReturns(t *testing.T) {
	rm, err := New(Config{Enabled: false}, store.NewMockStore(), nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rm.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled manager")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	rm, err := New(Config{Enabled: true, Cron: "* * * * *"}, store.NewMockStore(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		rm.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
