package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sttrelay/internal/core"
)

type staticView SessionSnapshot

func (v staticView) Snapshot() SessionSnapshot { return SessionSnapshot(v) }

func TestRegistryBindListUnbind(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	a := staticView{SID: "a", State: "awaiting_handshake", StartedAt: now}
	require.True(t, r.Bind("b", staticView{SID: "b", State: "streaming", StartedAt: now.Add(time.Second)}, nil))
	require.True(t, r.Bind("a", a, nil))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, core.SessionID("a"), list[0].SID)
	assert.Equal(t, core.SessionID("b"), list[1].SID)
	assert.Equal(t, 2, r.Count())

	r.Unbind("a", a)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("s1", staticView{SID: "s1"}, cancel)

	assert.False(t, r.Cancel("missing"))
	assert.True(t, r.Cancel("s1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRegistryCancelAllAndWaitIdle(t *testing.T) {
	r := NewRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	r.Bind("s1", staticView{SID: "s1"}, cancel1)
	r.Bind("s2", staticView{SID: "s2"}, cancel2)

	for sid, ctx := range map[core.SessionID]context.Context{"s1": ctx1, "s2": ctx2} {
		go func() {
			<-ctx.Done()
			r.Unbind(sid, staticView{SID: sid})
		}()
	}

	assert.Equal(t, 2, r.CancelAll())

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.WaitIdle(waitCtx))
	assert.Equal(t, 0, r.Count())
}

func TestRegistryWaitIdleTimeout(t *testing.T) {
	r := NewRegistry()
	r.Bind("stuck", staticView{SID: "stuck"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestRegistryRefusesLiveSidAndKeepsOwner(t *testing.T) {
	r := NewRegistry()
	first := &SessionSnapshot{SID: "dup"}
	second := &SessionSnapshot{SID: "dup"}
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	secondCtx, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()

	require.True(t, r.Bind("dup", ptrView{first}, cancelFirst))
	assert.False(t, r.Bind("dup", ptrView{second}, cancelSecond))
	require.True(t, r.Bind("fresh", ptrView{second}, cancelSecond))

	// A stale owner cannot remove someone else's entry.
	r.Unbind("fresh", ptrView{first})
	assert.Equal(t, 2, r.Count())

	r.Unbind("dup", ptrView{first})
	assert.Equal(t, 1, r.Count())

	assert.Equal(t, 1, r.CancelAll())
	assert.ErrorIs(t, secondCtx.Err(), context.Canceled)
	assert.NoError(t, firstCtx.Err())
}

type ptrView struct{ s *SessionSnapshot }

func (v ptrView) Snapshot() SessionSnapshot { return *v.s }
