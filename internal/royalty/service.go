package royalty

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service runs ingestion pipelines asynchronously and tracks their state.
// Runs for the same artist are serialized by contract with the caller; the
// service only bounds total concurrency across artists.
type Service struct {
	pipeline   *Pipeline
	limiter    *RunLimiter
	runTimeout time.Duration

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID       string
	ArtistID uuid.UUID
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu     sync.RWMutex
	phase  Phase
	result *ProcessingResult
	err    error
}

// ServiceConfig sizes the service.
type ServiceConfig struct {
	MaxConcurrentRuns int
	SlotWaitTimeout   time.Duration
	RunTimeout        time.Duration
}

// NewService creates the run service.
func NewService(pipeline *Pipeline, cfg ServiceConfig) *Service {
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Service{
		pipeline:   pipeline,
		limiter:    NewRunLimiter(cfg.MaxConcurrentRuns, cfg.SlotWaitTimeout),
		runTimeout: timeout,
		runs:       make(map[string]*activeRun),
	}
}

// StartRun begins an asynchronous ingestion run and returns its id.
// Returns ErrTooManyRuns when no slot frees up within the wait timeout.
// Input validation failures reject the request before any processing.
func (s *Service) StartRun(ctx context.Context, artistID uuid.UUID, storagePath string, cfg *BatchConfig) (string, error) {
	if artistID == uuid.Nil {
		return "", fmt.Errorf("artist id is required")
	}
	if storagePath == "" {
		return "", fmt.Errorf("storage path is required")
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return "", fmt.Errorf("invalid batch config: %w", err)
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	runID := uuid.New()
	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)

	run := &activeRun{
		ID:       runID.String(),
		ArtistID: artistID,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		phase:    PhaseIdle,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in ingestion run", "run_id", run.ID, "panic", r)
				run.finish(nil, fmt.Errorf("internal error: %v", r))
				s.cleanup(run.ID, 10*time.Minute)
			}
		}()

		result, err := s.pipeline.Process(runCtx, Request{
			RunID:       runID,
			ArtistID:    artistID,
			StoragePath: storagePath,
			Config:      cfg,
			OnPhase:     run.setPhase,
		})
		run.finish(result, err)
		s.cleanup(run.ID, 10*time.Minute)
	}()

	return run.ID, nil
}

// Phase returns the run's current phase without blocking.
func (s *Service) Phase(runID string) (Phase, error) {
	run, err := s.get(runID)
	if err != nil {
		return "", err
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	return run.phase, nil
}

// Result blocks until the run finishes, then returns its result. The error
// is the run's fatal error, if any.
func (s *Service) Result(ctx context.Context, runID string) (*ProcessingResult, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-run.Done:
	}

	run.mu.RLock()
	defer run.mu.RUnlock()
	return run.result, run.err
}

// TryResult returns the result if the run has finished, else (nil, false).
func (s *Service) TryResult(runID string) (*ProcessingResult, error, bool) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err, true
	}

	select {
	case <-run.Done:
		run.mu.RLock()
		defer run.mu.RUnlock()
		return run.result, run.err, true
	default:
		return nil, nil, false
	}
}

// CancelRun signals an in-progress run to stop taking new rows. In-flight
// batches still finish; the partial result stays retrievable.
func (s *Service) CancelRun(runID string) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// ActiveRuns returns how many runs currently hold a slot.
func (s *Service) ActiveRuns() int {
	return s.limiter.Active()
}

// WaitForDrain blocks until active runs complete, for graceful shutdown.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) get(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

// cleanup drops a finished run from the registry after a grace period so
// late result polls still succeed.
func (s *Service) cleanup(runID string, after time.Duration) {
	time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

func (r *activeRun) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *activeRun) finish(result *ProcessingResult, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	if err != nil {
		r.phase = PhaseFailed
	} else {
		r.phase = PhaseDone
	}
	r.mu.Unlock()
	close(r.Done)
}
