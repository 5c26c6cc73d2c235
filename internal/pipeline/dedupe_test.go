package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDedupeStore_Expiry(t *testing.T) {
	mClock := quartz.NewMock(t)
	store := NewInMemoryDedupeStore(time.Minute, mClock)

	assert.False(t, store.Exists("msg-1"))
	require.NoError(t, store.Add("msg-1"))
	assert.True(t, store.Exists("msg-1"))

	mClock.Advance(59 * time.Second)
	assert.True(t, store.Exists("msg-1"))

	mClock.Advance(time.Second)
	assert.False(t, store.Exists("msg-1"))
	assert.Equal(t, 1, store.Len())

	store.Cleanup()
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryDedupeStore_RunCleanup(t *testing.T) {
	store := NewInMemoryDedupeStore(5*time.Millisecond, nil)
	require.NoError(t, store.Add("msg-1"))
	require.NoError(t, store.Add("msg-2"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunCleanup(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
