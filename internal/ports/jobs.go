package ports

import "context"

type ScoreJob struct {
	ID        string
	ProfileID string
}

// JobRepository supports queueing, claiming and updating scoring jobs.
type JobRepository interface {
	Enqueue(ctx context.Context, profileID string) (jobID string, err error)
	ClaimNext(ctx context.Context) (job ScoreJob, found bool, err error)
	StartJobForProfile(ctx context.Context, profileID string) (jobID string, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
