// internal/service/pipeline/scheduler.go

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"medwarehouse/internal/domain/warehouse"
)

// Stage is one unit of transformation work. Run returns the number of
// records it affected.
type Stage struct {
	Name      string
	DependsOn []string
	Run       func(ctx context.Context) (int64, error)
}

// RunStore persists run summaries and arbitrates the run lock.
type RunStore interface {
	SaveRunSummary(ctx context.Context, summary warehouse.RunSummary) error
	AcquireRunLock(ctx context.Context) (func(), error)
}

// SchedulerConfig tunes stage retry and timeout behavior.
type SchedulerConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StageTimeout time.Duration
	EventsTopic  string
}

// Scheduler executes the transformation stages in dependency order,
// one run at a time. Transient stage failures are retried with jittered
// exponential backoff; a stage that exhausts its attempts fails the run
// and every stage downstream of it is skipped. The run summary is
// persisted whatever the outcome.
type Scheduler struct {
	stages   []Stage
	store    RunStore
	config   SchedulerConfig
	eventBus *nats.Conn
	logger   *logrus.Logger

	// mu serializes runs within this process; the advisory lock
	// serializes across processes.
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new scheduler
func NewScheduler(stages []Stage, store RunStore, config SchedulerConfig, eventBus *nats.Conn, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		stages:   stages,
		store:    store,
		config:   config,
		eventBus: eventBus,
		logger:   logger,
	}
}

// runEvent is the payload published to the event bus at run start and
// completion.
type runEvent struct {
	RunID   string `json:"run_id"`
	Trigger string `json:"trigger"`
	Status  string `json:"status,omitempty"`
}

// Run executes one full pipeline run and returns its summary. The
// summary is non-nil whenever a run actually started, including failed
// and cancelled runs. Concurrent invocations beyond the first return
// ErrRunInProgress without touching the warehouse.
func (s *Scheduler) Run(ctx context.Context, trigger string) (*warehouse.RunSummary, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, uuid.New().String(), trigger, release)
}

// StartAsync launches a run in the background and returns its run id.
// Lock arbitration happens synchronously so a conflicting trigger is
// rejected with ErrRunInProgress before this returns.
func (s *Scheduler) StartAsync(ctx context.Context, trigger string) (string, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	go func() {
		if _, err := s.execute(context.Background(), runID, trigger, release); err != nil {
			s.logger.WithError(err).WithField("run_id", runID).Error("Background pipeline run failed")
		}
	}()

	return runID, nil
}

// acquire takes the in-process guard and the cross-process advisory
// lock, returning a release for both. The stage graph is validated
// first so a miswired graph never mutates the warehouse.
func (s *Scheduler) acquire(ctx context.Context) (func(), error) {
	if err := s.validateOrdering(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	releaseGuard := func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}

	releaseLock, err := s.store.AcquireRunLock(ctx)
	if err != nil {
		releaseGuard()
		if errors.Is(err, ErrRunInProgress) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("error acquiring run lock: %w", err)
	}

	return func() {
		releaseLock()
		releaseGuard()
	}, nil
}

func (s *Scheduler) execute(ctx context.Context, runID, trigger string, release func()) (*warehouse.RunSummary, error) {
	defer release()

	summary := &warehouse.RunSummary{
		RunID:     runID,
		Trigger:   trigger,
		Status:    warehouse.RunSucceeded,
		StartedAt: time.Now().UTC(),
	}

	logger := s.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"trigger": trigger,
	})
	logger.Info("Pipeline run started")
	s.publish("run.started", runEvent{RunID: runID, Trigger: trigger})

	var runErr error
	failed := make(map[string]bool)

	for _, stage := range s.stages {
		result := warehouse.StageResult{
			Name:      stage.Name,
			Status:    warehouse.StagePending,
			StartedAt: time.Now().UTC(),
		}

		switch {
		case ctx.Err() != nil:
			result.Status = warehouse.StageSkipped
			result.Error = ctx.Err().Error()
			summary.Status = warehouse.RunCancelled
			if runErr == nil {
				runErr = ctx.Err()
			}
		case s.dependencyFailed(stage, failed):
			result.Status = warehouse.StageSkipped
			result.Error = "dependency failed"
			failed[stage.Name] = true
		default:
			result = s.runStage(ctx, stage, logger)
			if result.Status == warehouse.StageFailed {
				failed[stage.Name] = true
				summary.Status = warehouse.RunFailed
				if runErr == nil {
					runErr = stageError(stage.Name, errors.New(result.Error))
				}
			}
		}

		result.FinishedAt = time.Now().UTC()
		summary.Stages = append(summary.Stages, result)
	}

	summary.FinishedAt = time.Now().UTC()

	if err := s.store.SaveRunSummary(context.WithoutCancel(ctx), *summary); err != nil {
		logger.WithError(err).Error("Failed to persist run summary")
		if runErr == nil {
			runErr = err
		}
	}

	s.publish("run.completed", runEvent{
		RunID:   runID,
		Trigger: trigger,
		Status:  summary.Status,
	})
	logger.WithFields(logrus.Fields{
		"status":   summary.Status,
		"duration": summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("Pipeline run finished")

	return summary, runErr
}

// validateOrdering rejects stage graphs where a dependency is missing
// or scheduled after its dependent.
func (s *Scheduler) validateOrdering() error {
	seen := make(map[string]bool, len(s.stages))
	for _, stage := range s.stages {
		for _, dep := range stage.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: %s depends on %s", ErrStageOrdering, stage.Name, dep)
			}
		}
		seen[stage.Name] = true
	}
	return nil
}

func (s *Scheduler) dependencyFailed(stage Stage, failed map[string]bool) bool {
	for _, dep := range stage.DependsOn {
		if failed[dep] {
			return true
		}
	}
	return false
}

// runStage executes one stage under its timeout and retry policy.
func (s *Scheduler) runStage(ctx context.Context, stage Stage, logger *logrus.Entry) warehouse.StageResult {
	result := warehouse.StageResult{
		Name:      stage.Name,
		Status:    warehouse.StageRunning,
		StartedAt: time.Now().UTC(),
	}

	retry := retrypolicy.NewBuilder[int64]().
		WithBackoff(s.config.BackoffBase, s.config.BackoffMax).
		WithMaxRetries(s.config.MaxAttempts - 1).
		WithJitterFactor(0.1).
		HandleIf(func(_ int64, err error) bool {
			return IsTransient(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[int64]) {
			logger.WithFields(logrus.Fields{
				"stage":   stage.Name,
				"attempt": e.Attempts(),
				"error":   e.LastError().Error(),
			}).Warn("Retrying stage")
		}).
		Build()

	rows, err := failsafe.With(retry).
		WithContext(ctx).
		GetWithExecution(func(e failsafe.Execution[int64]) (int64, error) {
			result.Attempts = e.Attempts()

			stageCtx := ctx
			if s.config.StageTimeout > 0 {
				var cancel context.CancelFunc
				stageCtx, cancel = context.WithTimeout(ctx, s.config.StageTimeout)
				defer cancel()
			}

			return stage.Run(stageCtx)
		})

	result.RowsAffected = rows
	if err != nil {
		result.Status = warehouse.StageFailed
		result.Error = err.Error()
		logger.WithFields(logrus.Fields{
			"stage":    stage.Name,
			"attempts": result.Attempts,
			"error":    err.Error(),
		}).Error("Stage failed")
		return result
	}

	result.Status = warehouse.StageSucceeded
	logger.WithFields(logrus.Fields{
		"stage":    stage.Name,
		"attempts": result.Attempts,
		"rows":     rows,
	}).Info("Stage succeeded")
	return result
}

// publish sends a run lifecycle event to the event bus. Publishing is
// best effort and never fails a run.
func (s *Scheduler) publish(event string, payload runEvent) {
	if s.eventBus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	subject := fmt.Sprintf("%s.%s", s.config.EventsTopic, event)
	if err := s.eventBus.Publish(subject, data); err != nil {
		s.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish run event")
	}
}
