package voucher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PurgeJob runs PurgeExpired on an interval. Operators can also trigger a
// purge by hand through the admin endpoint.
type PurgeJob struct {
	svc *Service
}

func NewPurgeJob(svc *Service) *PurgeJob {
	return &PurgeJob{svc: svc}
}

// Start blocks until ctx is done.
func (j *PurgeJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Voucher purge job stopped")
			return
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (j *PurgeJob) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	res, err := j.svc.PurgeExpired(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge expired vouchers")
		return
	}
	if res.Deleted > 0 {
		log.Info().Int("deleted", res.Deleted).Msg("Scheduled voucher purge done")
	}
}
