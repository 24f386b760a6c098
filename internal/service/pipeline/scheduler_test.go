package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medwarehouse/internal/domain/warehouse"
)

func schedulerFixture(stages []Stage) (*Scheduler, *fakeRunStore) {
	store := &fakeRunStore{}
	scheduler := NewScheduler(stages, store, SchedulerConfig{
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		StageTimeout: time.Second,
		EventsTopic:  "pipeline",
	}, nil, testLogger())
	return scheduler, store
}

func okStage(name string, deps ...string) Stage {
	return Stage{
		Name:      name,
		DependsOn: deps,
		Run: func(ctx context.Context) (int64, error) {
			return 1, nil
		},
	}
}

func TestSchedulerRunsStagesInOrder(t *testing.T) {
	var order []string
	stages := []Stage{
		{Name: "load_raw", Run: func(ctx context.Context) (int64, error) {
			order = append(order, "load_raw")
			return 10, nil
		}},
		{Name: "build_dimensions", DependsOn: []string{"load_raw"}, Run: func(ctx context.Context) (int64, error) {
			order = append(order, "build_dimensions")
			return 20, nil
		}},
		{Name: "build_facts", DependsOn: []string{"load_raw", "build_dimensions"}, Run: func(ctx context.Context) (int64, error) {
			order = append(order, "build_facts")
			return 30, nil
		}},
	}

	scheduler, store := schedulerFixture(stages)
	summary, err := scheduler.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, []string{"load_raw", "build_dimensions", "build_facts"}, order)
	assert.Equal(t, warehouse.RunSucceeded, summary.Status)
	assert.Equal(t, "manual", summary.Trigger)
	require.Len(t, summary.Stages, 3)
	assert.Equal(t, int64(10), summary.Stages[0].RowsAffected)
	assert.Equal(t, warehouse.StageSucceeded, summary.Stages[2].Status)

	require.Len(t, store.savedRuns(), 1)
	assert.Equal(t, summary.RunID, store.savedRuns()[0].RunID)
	assert.False(t, store.lockHeld(), "lock must be released after the run")
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	attempts := 0
	stages := []Stage{
		{Name: "load_raw", Run: func(ctx context.Context) (int64, error) {
			attempts++
			if attempts < 3 {
				return 0, MarkTransient(errors.New("connection reset"))
			}
			return 5, nil
		}},
	}

	scheduler, _ := schedulerFixture(stages)
	summary, err := scheduler.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, warehouse.RunSucceeded, summary.Status)
	assert.Equal(t, 3, summary.Stages[0].Attempts)
}

func TestSchedulerDoesNotRetryNonTransient(t *testing.T) {
	attempts := 0
	stages := []Stage{
		{Name: "load_raw", Run: func(ctx context.Context) (int64, error) {
			attempts++
			return 0, errors.New("malformed input")
		}},
	}

	scheduler, _ := schedulerFixture(stages)
	summary, err := scheduler.Run(context.Background(), "manual")
	require.Error(t, err)

	assert.Equal(t, 1, attempts)
	assert.Equal(t, warehouse.RunFailed, summary.Status)
	assert.Equal(t, warehouse.StageFailed, summary.Stages[0].Status)
}

func TestSchedulerSkipsDownstreamOfFailure(t *testing.T) {
	factsRan := false
	stages := []Stage{
		okStage("load_raw"),
		{Name: "build_dimensions", DependsOn: []string{"load_raw"}, Run: func(ctx context.Context) (int64, error) {
			return 0, errors.New("bad aggregate")
		}},
		{Name: "build_facts", DependsOn: []string{"build_dimensions"}, Run: func(ctx context.Context) (int64, error) {
			factsRan = true
			return 0, nil
		}},
	}

	scheduler, store := schedulerFixture(stages)
	summary, err := scheduler.Run(context.Background(), "manual")
	require.Error(t, err)

	assert.False(t, factsRan, "stage downstream of a failure must not run")
	assert.Equal(t, warehouse.RunFailed, summary.Status)
	assert.Equal(t, warehouse.StageSucceeded, summary.Stage("load_raw").Status)
	assert.Equal(t, warehouse.StageFailed, summary.Stage("build_dimensions").Status)
	assert.Equal(t, warehouse.StageSkipped, summary.Stage("build_facts").Status)

	require.Len(t, store.savedRuns(), 1, "failed runs still persist a summary")
	assert.Equal(t, warehouse.RunFailed, store.savedRuns()[0].Status)
}

func TestSchedulerRejectsMiswiredGraph(t *testing.T) {
	loadRan := false
	stages := []Stage{
		{Name: "build_facts", DependsOn: []string{"build_dimensions"}, Run: func(ctx context.Context) (int64, error) {
			return 0, nil
		}},
		{Name: "build_dimensions", Run: func(ctx context.Context) (int64, error) {
			loadRan = true
			return 0, nil
		}},
	}

	scheduler, store := schedulerFixture(stages)
	summary, err := scheduler.Run(context.Background(), "manual")

	assert.ErrorIs(t, err, ErrStageOrdering)
	assert.Nil(t, summary)
	assert.False(t, loadRan, "nothing runs when the graph is miswired")
	assert.Empty(t, store.savedRuns())
	assert.False(t, store.lockHeld())
}

func TestSchedulerRejectsConcurrentRuns(t *testing.T) {
	scheduler, store := schedulerFixture([]Stage{okStage("load_raw")})
	store.setLocked(true)

	summary, err := scheduler.Run(context.Background(), "manual")

	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, summary)
	assert.Empty(t, store.savedRuns())
}

func TestSchedulerCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	stages := []Stage{
		{Name: "load_raw", Run: func(ctx context.Context) (int64, error) {
			ran = true
			return 1, nil
		}},
		okStage("build_dimensions", "load_raw"),
	}

	scheduler, store := schedulerFixture(stages)
	summary, err := scheduler.Run(ctx, "manual")
	require.ErrorIs(t, err, context.Canceled)

	assert.False(t, ran, "no stage runs after cancellation")
	assert.Equal(t, warehouse.RunCancelled, summary.Status)
	assert.Equal(t, warehouse.StageSkipped, summary.Stage("load_raw").Status)
	assert.Equal(t, warehouse.StageSkipped, summary.Stage("build_dimensions").Status)
	require.Len(t, store.savedRuns(), 1, "cancelled runs still persist a summary")
}

func TestSchedulerStartAsync(t *testing.T) {
	done := make(chan struct{})
	stages := []Stage{
		{Name: "load_raw", Run: func(ctx context.Context) (int64, error) {
			close(done)
			return 1, nil
		}},
	}

	scheduler, store := schedulerFixture(stages)
	runID, err := scheduler.StartAsync(context.Background(), "api")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background run never executed")
	}

	require.Eventually(t, func() bool {
		return len(store.savedRuns()) == 1 && !store.lockHeld()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, runID, store.savedRuns()[0].RunID)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("parse failure")))
	assert.True(t, IsTransient(MarkTransient(errors.New("broker unavailable"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
}
