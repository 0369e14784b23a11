package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/pipeline"
)

func syncService(t *testing.T, name string, onRun func()) pipeline.Runnable {
	t.Helper()
	svc, err := pipeline.NewService(name, func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		if onRun != nil {
			onRun()
		}
		return "", nil
	})
	require.NoError(t, err)
	return svc
}

func asyncService(t *testing.T, name string, onRun func()) pipeline.Runnable {
	t.Helper()
	svc, err := pipeline.NewService(name, func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		if onRun != nil {
			onRun()
		}
		return "", nil
	}, pipeline.WithAsynchronous(true))
	require.NoError(t, err)
	return svc
}

func TestServiceGroup_RunsSynchronousChildrenInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	children := []pipeline.Runnable{
		syncService(t, "a", record("a")),
		syncService(t, "b", record("b")),
		syncService(t, "c", record("c")),
	}
	group, err := pipeline.NewServiceGroup("seq", children, nil, pipeline.MarkedSynchronous())
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, group.Run(context.Background(), dctx))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, pipeline.StateFinished, group.State(dctx))
}

func TestServiceGroup_BatchesContiguousAsyncChildren(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	track := func() {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	}

	children := []pipeline.Runnable{
		asyncService(t, "a1", track),
		asyncService(t, "a2", track),
		syncService(t, "barrier", nil),
		asyncService(t, "a3", track),
		asyncService(t, "a4", track),
	}
	group, err := pipeline.NewServiceGroup("mixed", children, nil)
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, group.Run(context.Background(), dctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(2))
}

func TestServiceGroup_MaxConcurrencyBoundsParallelSubgroup(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	track := func() {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	}

	children := []pipeline.Runnable{
		asyncService(t, "a1", track),
		asyncService(t, "a2", track),
		asyncService(t, "a3", track),
		asyncService(t, "a4", track),
	}
	group, err := pipeline.NewServiceGroup("bounded", children, nil, pipeline.WithMaxConcurrency(2))
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, group.Run(context.Background(), dctx))
	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(2))
	assert.Equal(t, pipeline.StateFinished, group.State(dctx))
}

func TestServiceGroup_FailedSiblingDoesNotCancelOthers(t *testing.T) {
	var bFinished int32
	failing, err := pipeline.NewService("fails", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		return "", errors.New("boom")
	}, pipeline.WithAsynchronous(true))
	require.NoError(t, err)

	slow, err := pipeline.NewService("slow", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&bFinished, 1)
		return "", nil
	}, pipeline.WithAsynchronous(true))
	require.NoError(t, err)

	group, err := pipeline.NewServiceGroup("par", []pipeline.Runnable{failing, slow}, nil)
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, group.Run(context.Background(), dctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&bFinished))
	assert.Equal(t, pipeline.StateFailed, group.State(dctx))
	assert.Equal(t, pipeline.StateFinished, slow.State(dctx))
	assert.Equal(t, pipeline.StateFailed, failing.State(dctx))
}

func TestServiceGroup_TimeoutFailsOnlyThatChild(t *testing.T) {
	finished := make(chan struct{})
	timedOut, err := pipeline.NewService("timesout", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, pipeline.WithAsynchronous(true), pipeline.WithTimeout(5*time.Millisecond))
	require.NoError(t, err)

	ok, err := pipeline.NewService("ok", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		close(finished)
		return "", nil
	}, pipeline.WithAsynchronous(true))
	require.NoError(t, err)

	group, err := pipeline.NewServiceGroup("par", []pipeline.Runnable{timedOut, ok}, nil)
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, group.Run(context.Background(), dctx))

	select {
	case <-finished:
	default:
		t.Fatal("sibling of a timed-out component did not finish")
	}
	assert.Equal(t, pipeline.StateFailed, timedOut.State(dctx))
	assert.Equal(t, pipeline.StateFinished, ok.State(dctx))
}

func TestServiceGroup_NestedGroupsComposeAsRunnable(t *testing.T) {
	inner, err := pipeline.NewServiceGroup("inner", []pipeline.Runnable{
		syncService(t, "leaf", nil),
	}, nil, pipeline.MarkedSynchronous())
	require.NoError(t, err)

	outer, err := pipeline.NewServiceGroup("outer", []pipeline.Runnable{inner}, nil, pipeline.MarkedSynchronous())
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, outer.Run(context.Background(), dctx))
	assert.Equal(t, pipeline.StateFinished, outer.State(dctx))
	assert.Equal(t, "outer.inner", inner.Path())
}
