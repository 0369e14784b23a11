package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/message"
	"github.com/deeppavlov/dialgo-flow-framework/pipeline"
	"github.com/deeppavlov/dialgo-flow-framework/storage"
	"github.com/deeppavlov/dialgo-flow-framework/storage/memorystore"
)

func newTestContext(t *testing.T) *dialogctx.Context {
	t.Helper()
	store := memorystore.New()
	start := message.NodeLabel{Flow: "flow", Node: "start"}
	c, err := dialogctx.Connected(context.Background(), store, storage.DefaultSubscriptionConfig(), "test", start, "")
	require.NoError(t, err)
	return c
}

func TestNewService_RejectsBlankOrDottedName(t *testing.T) {
	_, err := pipeline.NewService("", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		return pipeline.StateFinished, nil
	})
	require.Error(t, err)

	_, err = pipeline.NewService("a.b", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		return pipeline.StateFinished, nil
	})
	require.Error(t, err)
}

func TestService_Run_SetsFinishedOnSuccess(t *testing.T) {
	svc, err := pipeline.NewService("guard", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		return "", nil
	})
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.Equal(t, pipeline.StateFinished, svc.State(dctx))
}

func TestService_Run_SetsFailedOnError(t *testing.T) {
	svc, err := pipeline.NewService("broken", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		return "", errors.New("boom")
	})
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.Equal(t, pipeline.StateFailed, svc.State(dctx))
}

func TestService_Run_StartConditionSkipsBody(t *testing.T) {
	ran := false
	svc, err := pipeline.NewService("conditional", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		ran = true
		return "", nil
	}, pipeline.WithStartCondition(func(dctx *dialogctx.Context) bool { return false }))
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.False(t, ran)
	assert.Equal(t, pipeline.StateNotRun, svc.State(dctx))
}

func TestService_Run_TimeoutFailsWithoutBlockingCaller(t *testing.T) {
	svc, err := pipeline.NewService("slow", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, pipeline.WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	dctx := newTestContext(t)
	start := time.Now()
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, pipeline.StateFailed, svc.State(dctx))
}

func TestService_Run_HandlersFireBeforeAndAfter(t *testing.T) {
	var order []string
	svc, err := pipeline.NewService("step", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		order = append(order, "body")
		return "", nil
	},
		pipeline.WithBeforeHandler(func(ctx context.Context, dctx *dialogctx.Context, info pipeline.RuntimeInfo) error {
			order = append(order, "before")
			return nil
		}),
		pipeline.WithAfterHandler(func(ctx context.Context, dctx *dialogctx.Context, info pipeline.RuntimeInfo) error {
			order = append(order, "after:"+string(info.State))
			return nil
		}),
	)
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.Equal(t, []string{"before", "body", "after:FINISHED"}, order)
}

func TestService_Run_AfterHandlerRunsEvenOnFailure(t *testing.T) {
	var afterState pipeline.State
	svc, err := pipeline.NewService("failing", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		return "", errors.New("boom")
	}, pipeline.WithAfterHandler(func(ctx context.Context, dctx *dialogctx.Context, info pipeline.RuntimeInfo) error {
		afterState = info.State
		return nil
	}))
	require.NoError(t, err)

	dctx := newTestContext(t)
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.Equal(t, pipeline.StateFailed, afterState)
}

func TestService_Run_RateLimitDelaysBodyUntilTokenAvailable(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	limiter.Allow() // drain the initial burst token so the next Wait blocks

	var ran time.Time
	svc, err := pipeline.NewService("throttled", func(ctx context.Context, dctx *dialogctx.Context) (pipeline.State, error) {
		ran = time.Now()
		return "", nil
	}, pipeline.WithRateLimit(limiter))
	require.NoError(t, err)

	dctx := newTestContext(t)
	start := time.Now()
	require.NoError(t, svc.Run(context.Background(), dctx))
	assert.GreaterOrEqual(t, ran.Sub(start), 10*time.Millisecond)
	assert.Equal(t, pipeline.StateFinished, svc.State(dctx))
}
