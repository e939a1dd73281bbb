package taskq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChain_OrderAndNilSkipped(t *testing.T) {
	order := []int{}
	mw := func(n int) Middleware {
		return func(next Processor) Processor {
			return func(ctx context.Context, tc *TaskContext) error {
				order = append(order, n)
				return next(ctx, tc)
			}
		}
	}
	called := 0
	p := chain(func(ctx context.Context, tc *TaskContext) error {
		called++
		return errors.New("done")
	}, []Middleware{mw(1), nil, mw(2)})

	err := p(context.Background(), newTaskContext(&Task{ID: "t"}, nil, nil, nil))
	require.EqualError(t, err, "done")
	require.Equal(t, 1, called)
	// first registered is outermost
	require.Equal(t, []int{1, 2}, order)
}

func TestLogRuns(t *testing.T) {
	log := &testLogger{}
	p := LogRuns(log)(func(ctx context.Context, tc *TaskContext) error {
		tc.Succeed("a")
		return nil
	})
	require.NoError(t, p(context.Background(), newTaskContext(&Task{ID: "t", Total: 1}, []any{"a"}, nil, nil)))
	require.True(t, log.contains("run start"))
	require.True(t, log.contains("run end"))
}
