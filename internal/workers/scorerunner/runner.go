package scorerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"devintel/internal/ports"
)

// Processor performs the scoring work for a profile id.
type Processor interface {
	Process(ctx context.Context, profileID string) error
}

// ScoringProcessor loads a profile, scores it and stores the resulting signal.
type ScoringProcessor struct {
	Profiles ports.ProfileRepository
	Scorer   Scorer
}

func (s ScoringProcessor) Process(ctx context.Context, profileID string) error {
	p, err := s.Profiles.Get(ctx, profileID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", profileID, err)
	}
	sig, err := s.Scorer.Score(ctx, p)
	if err != nil {
		return fmt.Errorf("score profile %s: %w", profileID, err)
	}
	if !isFinite(sig.Score) {
		return fmt.Errorf("score profile %s: %w", profileID, ErrNonFiniteScore)
	}
	return s.Profiles.ReplaceSignal(ctx, profileID, sig)
}

// Run starts worker goroutines that claim jobs and process them. It returns
// immediately; workers stop when ctx is cancelled.
func Run(ctx context.Context, repo ports.JobRepository, processor Processor, concurrency int, pollInterval time.Duration, log *slog.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	jobsCh := make(chan ports.ScoreJob, concurrency)

	// dispatcher loop
	go func() {
		defer close(jobsCh)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					job, found, err := repo.ClaimNext(ctx)
					if err != nil {
						if ctx.Err() == nil {
							log.Error("job claim failed", "err", err)
						}
						break
					}
					if !found {
						break
					}
					select {
					case jobsCh <- job:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			for job := range jobsCh {
				if err := processor.Process(ctx, job.ProfileID); err != nil {
					_ = repo.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error())
					log.Warn("scoring job failed", "worker", idx, "job_id", job.ID, "err", err)
					continue
				}
				if err := repo.MarkCompleted(context.WithoutCancel(ctx), job.ID); err != nil {
					log.Error("job completion failed", "worker", idx, "job_id", job.ID, "err", err)
				}
			}
		}(i)
	}
}

// ProcessInline claims and scores the queued job of one profile synchronously,
// using the same processor as the background workers. When a worker has
// already claimed the job the profile is scored without a job record; scoring
// replaces the previous aggregate signal, so running twice is harmless.
func ProcessInline(ctx context.Context, repo ports.JobRepository, processor Processor, profileID string) error {
	jobID, err := repo.StartJobForProfile(ctx, profileID)
	if errors.Is(err, ports.ErrNotFound) {
		return processor.Process(ctx, profileID)
	}
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, profileID); err != nil {
		_ = repo.MarkFailed(context.WithoutCancel(ctx), jobID, err.Error())
		return err
	}
	// The job must not stay running if the caller's deadline passed after scoring.
	return repo.MarkCompleted(context.WithoutCancel(ctx), jobID)
}
