package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Provisioner is the router-side collaborator. Its failures never undo a
// sale; they are retried from the outbox.
type Provisioner interface {
	CreateLogin(ctx context.Context, username, password, profile string) error
	RemoveLogin(ctx context.Context, username string) error
	DisconnectSession(ctx context.Context, username string) error
}

// Store is the outbox persistence used by Service.
type Store interface {
	Enqueue(ctx context.Context, job Job) (int64, error)
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Job, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastErr string, next time.Time) error
	MarkDead(ctx context.Context, id int64, lastErr string) error
	List(ctx context.Context, status Status, limit int) ([]Job, error)
	Requeue(ctx context.Context, id int64) error
}

// Waker nudges workers that new jobs are queued.
type Waker interface {
	Wake(ctx context.Context)
}

const (
	batchSize   = 20
	jobLease    = 2 * time.Minute
	baseBackoff = 10 * time.Second
	maxBackoff  = 30 * time.Minute
)

type Service struct {
	store       Store
	router      Provisioner
	waker       Waker
	maxAttempts int
	now         func() time.Time
}

func NewService(store Store, router Provisioner, waker Waker, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Service{
		store:       store,
		router:      router,
		waker:       waker,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// EnqueueDisconnect queues a session kick for username.
func (s *Service) EnqueueDisconnect(ctx context.Context, username string) (int64, error) {
	return s.enqueue(ctx, NewDisconnect(strings.TrimSpace(username)))
}

// EnqueueRemove queues removal of the hotspot login.
func (s *Service) EnqueueRemove(ctx context.Context, username string) (int64, error) {
	return s.enqueue(ctx, NewRemoveLogin(strings.TrimSpace(username)))
}

func (s *Service) enqueue(ctx context.Context, job Job) (int64, error) {
	if job.Username == "" {
		return 0, errors.New("username is required")
	}
	id, err := s.store.Enqueue(ctx, job)
	if err != nil {
		return 0, err
	}
	s.Wake(ctx)
	return id, nil
}

// Wake signals workers, if a waker is configured.
func (s *Service) Wake(ctx context.Context) {
	if s.waker != nil {
		s.waker.Wake(ctx)
	}
}

func (s *Service) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, status, limit)
}

// Retry moves a dead-lettered job back into the queue.
func (s *Service) Retry(ctx context.Context, id int64) error {
	if err := s.store.Requeue(ctx, id); err != nil {
		return err
	}
	s.Wake(ctx)
	return nil
}

// ProcessDue runs one batch of due jobs and returns how many succeeded.
func (s *Service) ProcessDue(ctx context.Context) (int, error) {
	jobs, err := s.store.ClaimDue(ctx, batchSize, jobLease)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if s.process(ctx, job) {
			done++
		}
	}
	return done, nil
}

func (s *Service) process(ctx context.Context, job Job) bool {
	runErr := s.run(ctx, job)
	if runErr == nil {
		if err := s.store.MarkDone(ctx, job.ID); err != nil {
			log.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to mark provisioning job done")
		}
		log.Info().
			Int64("job_id", job.ID).
			Str("action", string(job.Action)).
			Str("username", job.Username).
			Msg("Provisioning job done")
		return true
	}

	// job.Attempts already counts this run
	if job.Attempts >= s.maxAttempts || errors.Is(runErr, ErrInvalidAction) {
		if err := s.store.MarkDead(ctx, job.ID, runErr.Error()); err != nil {
			log.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to dead-letter provisioning job")
		}
		log.Error().Err(runErr).
			Int64("job_id", job.ID).
			Str("action", string(job.Action)).
			Str("username", job.Username).
			Int("attempts", job.Attempts).
			Msg("Provisioning job dead-lettered")
		return false
	}

	next := s.now().Add(Backoff(job.Attempts))
	if err := s.store.MarkFailed(ctx, job.ID, runErr.Error(), next); err != nil {
		log.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to record provisioning failure")
	}
	log.Warn().Err(runErr).
		Int64("job_id", job.ID).
		Str("action", string(job.Action)).
		Int("attempts", job.Attempts).
		Time("next_attempt_at", next).
		Msg("Provisioning job failed, will retry")
	return false
}

func (s *Service) run(ctx context.Context, job Job) error {
	switch job.Action {
	case ActionCreateLogin:
		if job.Password == nil || job.Profile == nil {
			return fmt.Errorf("%w: create_login without password or profile", ErrInvalidAction)
		}
		return s.router.CreateLogin(ctx, job.Username, *job.Password, *job.Profile)
	case ActionRemoveLogin:
		return s.router.RemoveLogin(ctx, job.Username)
	case ActionDisconnectSession:
		return s.router.DisconnectSession(ctx, job.Username)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, job.Action)
	}
}

// Backoff is the delay before attempt n+1, doubling from baseBackoff.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
