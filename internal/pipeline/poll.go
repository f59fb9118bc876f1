package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/queue"
	"github.com/fossas/broker/internal/retry"
	"github.com/fossas/broker/internal/store"
	"github.com/fossas/broker/internal/transport"
)

// pollWorker runs execute_poll in a loop: forever attempt a poll cycle,
// log any error, sleep poll_interval.
type pollWorker struct {
	integration config.Integration
	transport   transport.Transport
	state       store.Store
	sender      *queue.Sender
	logger      *zap.Logger
}

func (w *pollWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.integration.PollInterval.Duration)
	defer ticker.Stop()

	for {
		if err := w.executePoll(ctx); err != nil {
			w.logger.Warn("poll cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// executePoll fetches the remote's current references with a bounded
// retry, filters out references excluded by import rules, and emits a
// ScanJob for every surviving reference whose stored state has diverged.
func (w *pollWorker) executePoll(ctx context.Context) error {
	var refs []transport.Reference
	err := retry.Do(ctx, retry.DefaultPolicy, func(attempt int, err error) {
		w.logger.Warn("list_references attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}, func(ctx context.Context) error {
		var err error
		refs, err = w.transport.ListReferences(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if !w.isWatched(ref) {
			continue
		}

		coord := store.Coordinate{
			IntegrationKind: w.integration.Kind,
			RemoteID:        string(w.integration.Remote),
			ReferenceID:     ref.Coordinate(),
		}
		stored, ok, err := w.state.State(ctx, coord)
		if err != nil {
			w.logger.Warn("state lookup failed", zap.String("reference", ref.DisplayName()), zap.Error(err))
			continue
		}
		if ok && string(stored) == string(ref.StateBytes()) {
			continue
		}

		job := ScanJob{ScanID: uuid.New(), Reference: ref}
		if err := w.sender.Send(ctx, job); err != nil {
			return err
		}
		w.logger.Info("scan job emitted", zap.String("reference", ref.DisplayName()), zap.String("scan_id", job.ScanID.String()))
	}

	return nil
}

// isWatched applies the branch/tag import rules and the per-integration
// watched-branch list.
func (w *pollWorker) isWatched(ref transport.Reference) bool {
	if ref.IsBranch() {
		return matchesImportMode(w.integration.ImportBranches, ref.Name)
	}
	return matchesImportMode(w.integration.ImportTags, ref.Name)
}

func matchesImportMode(mode config.ImportMode, name string) bool {
	if !mode.Enabled {
		return false
	}
	if len(mode.Watched) == 0 {
		return true
	}
	for _, w := range mode.Watched {
		if w == name {
			return true
		}
	}
	return false
}
