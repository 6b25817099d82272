package bridge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successResponse(requestID string) *contracts.NLPResponse {
	return &contracts.NLPResponse{
		BaseResponse: contracts.NewBaseResponse(contracts.TypeNLPResponse, requestID, contracts.StatusSuccess),
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Run("registers a pending handle", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.Register(newHandle("req-1")))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("rejects a duplicate correlation id", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.Register(newHandle("req-1")))
		err := r.Register(newHandle("req-1"))
		assert.ErrorIs(t, err, ErrDuplicateCorrelationID)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("id can be reused after removal", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.Register(newHandle("req-1")))
		require.NotNil(t, r.Remove("req-1"))
		assert.NoError(t, r.Register(newHandle("req-1")))
	})
}

func TestRegistryComplete(t *testing.T) {
	t.Run("removes the entry and resolves the handle", func(t *testing.T) {
		r := NewRegistry()
		h := newHandle("req-1")
		require.NoError(t, r.Register(h))

		resp := successResponse("req-1")
		assert.True(t, r.Complete("req-1", resp))
		assert.Equal(t, 0, r.Len())

		got, err, resolved := h.Result()
		require.True(t, resolved)
		assert.NoError(t, err)
		assert.Equal(t, resp, got)
	})

	t.Run("duplicate completion is rejected", func(t *testing.T) {
		r := NewRegistry()
		h := newHandle("req-1")
		require.NoError(t, r.Register(h))

		require.True(t, r.Complete("req-1", successResponse("req-1")))
		assert.False(t, r.Complete("req-1", successResponse("req-1")))
	})

	t.Run("unknown id is rejected", func(t *testing.T) {
		r := NewRegistry()
		assert.False(t, r.Complete("no-such-id", successResponse("no-such-id")))
	})

	t.Run("exactly one concurrent completion wins", func(t *testing.T) {
		r := NewRegistry()
		h := newHandle("req-1")
		require.NoError(t, r.Register(h))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if r.Complete("req-1", successResponse("req-1")) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, 0, r.Len())
	})
}

func TestRegistryRemove(t *testing.T) {
	t.Run("returns the handle without resolving it", func(t *testing.T) {
		r := NewRegistry()
		h := newHandle("req-1")
		require.NoError(t, r.Register(h))

		removed := r.Remove("req-1")
		require.Same(t, h, removed)
		assert.Equal(t, StatePending, removed.State())
		assert.Equal(t, 0, r.Len())
	})

	t.Run("returns nil for an unknown id", func(t *testing.T) {
		r := NewRegistry()
		assert.Nil(t, r.Remove("no-such-id"))
	})
}

func TestRegistrySweep(t *testing.T) {
	t.Run("removes only matching entries", func(t *testing.T) {
		r := NewRegistry()
		old := newHandle("req-old")
		old.submittedAt = time.Now().Add(-time.Minute)
		fresh := newHandle("req-fresh")
		require.NoError(t, r.Register(old))
		require.NoError(t, r.Register(fresh))

		cutoff := time.Now().Add(-30 * time.Second)
		removed := r.Sweep(func(h *CompletionHandle) bool {
			return h.SubmittedAt().Before(cutoff)
		})

		require.Len(t, removed, 1)
		assert.Equal(t, "req-old", removed[0].ID())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("registry empties under full sweep", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 5; i++ {
			require.NoError(t, r.Register(newHandle(fmt.Sprintf("req-%d", i))))
		}

		removed := r.Sweep(func(*CompletionHandle) bool { return true })
		assert.Len(t, removed, 5)
		assert.Equal(t, 0, r.Len())
	})

	t.Run("swept entry cannot be completed afterwards", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newHandle("req-1")))

		removed := r.Sweep(func(*CompletionHandle) bool { return true })
		require.Len(t, removed, 1)

		assert.False(t, r.Complete("req-1", successResponse("req-1")))
	})
}
