package provisioning

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// WakeChannel is the Redis channel used to nudge workers.
const WakeChannel = "provisioning:wake"

// RedisWaker publishes wake-ups. A nil client makes it a no-op.
type RedisWaker struct {
	client *redis.Client
}

func NewRedisWaker(client *redis.Client) *RedisWaker {
	return &RedisWaker{client: client}
}

func (w *RedisWaker) Wake(ctx context.Context) {
	if w == nil || w.client == nil {
		return
	}
	if err := w.client.Publish(ctx, WakeChannel, "1").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to publish provisioning wake-up")
	}
}

// Worker drains the outbox on a ticker and on wake-ups.
type Worker struct {
	svc      *Service
	redis    *redis.Client
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewWorker(svc *Service, redisClient *redis.Client, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		svc:      svc,
		redis:    redisClient,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the loop in the background.
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting provisioning worker")
	go w.loop()
}

// Stop ends the loop and waits for the current batch.
func (w *Worker) Stop() {
	log.Info().Msg("Stopping provisioning worker")
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) loop() {
	defer close(w.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopCh
		cancel()
	}()

	wake := make(chan struct{}, 1)
	if w.redis != nil {
		go w.subscribe(ctx, wake)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// drain keeps claiming batches until one comes back empty.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		batchCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		done, err := w.svc.ProcessDue(batchCtx)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("Provisioning batch failed")
			return
		}
		if done == 0 {
			return
		}
	}
}

func (w *Worker) subscribe(ctx context.Context, wake chan<- struct{}) {
	sub := w.redis.Subscribe(ctx, WakeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
