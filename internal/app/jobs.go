package app

import (
	"context"
	"time"

	"github.com/storyloom/core/internal/modules/pipeline"
	"github.com/storyloom/core/internal/modules/story"
	pkgcron "github.com/storyloom/core/internal/pkg/cron"
)

const (
	speechBackfillBatch = 50
	reindexBatch        = 100
)

// registerJobs repairs best-effort work that was dropped or failed.
func registerJobs(sched *pkgcron.Scheduler, speaker *pipeline.Speaker, indexer *story.Indexer) {
	sched.Register(pkgcron.Job{
		Name:        "backfill_speech",
		Description: "queue speech for open prompts without audio",
		Interval:    5 * time.Minute,
		Fn: func(ctx context.Context) error {
			_, err := speaker.Backfill(ctx, speechBackfillBatch)
			return err
		},
	})
	sched.Register(pkgcron.Job{
		Name:        "reindex_stories",
		Description: "embed stories missing from the search index",
		Interval:    time.Hour,
		Timeout:     10 * time.Minute,
		Fn: func(ctx context.Context) error {
			_, err := indexer.Backfill(ctx, reindexBatch)
			return err
		},
	})
}
