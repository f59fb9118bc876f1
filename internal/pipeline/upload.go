package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/queue"
	"github.com/fossas/broker/internal/ratelimit"
	"github.com/fossas/broker/internal/store"
	"github.com/fossas/broker/internal/upload"
)

// uploadWorker runs in a loop: forever receive from the upload queue, wait
// for the rate limiter, upload the scan result, and persist the new state
// only after a successful upload.
type uploadWorker struct {
	integration config.Integration
	client      *upload.Client
	state       store.Store
	limiter     *ratelimit.Limiter
	receiver    *queue.Receiver
	logger      *zap.Logger
}

func (w *uploadWorker) run(ctx context.Context) {
	for {
		handle, err := w.receiver.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("upload queue receive failed", zap.Error(err))
			continue
		}

		var job UploadJob
		if err := handle.Decode(&job); err != nil {
			w.logger.Warn("failed to decode upload job", zap.Error(err))
			continue
		}

		if err := w.uploadOne(ctx, job); err != nil {
			w.logger.Warn("upload failed", zap.String("scan_id", job.ScanID.String()),
				zap.String("reference", job.Reference.DisplayName()), zap.Error(err))
			// Drop the failed job so it is not redelivered on the next Recv;
			// state was not advanced, so a later poll emits it again.
			if ctx.Err() == nil {
				if cerr := handle.Commit(); cerr != nil {
					w.logger.Warn("failed to commit upload queue receipt", zap.Error(cerr))
				}
			}
			continue
		}

		if err := handle.Commit(); err != nil {
			w.logger.Warn("failed to commit upload queue receipt", zap.Error(err))
		}
	}
}

// uploadOne waits for the rate limiter,
// uploads the scan, and only then writes the reference's new state.
func (w *uploadWorker) uploadOne(ctx context.Context, job UploadJob) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pipeline: rate limiter: %w", err)
	}

	projectName := strings.TrimSuffix(string(w.integration.Remote), ".git")
	_, err := w.client.UploadScan(ctx, upload.ScanResult{
		ProjectName:     projectName,
		Revision:        job.Reference.Commit,
		Branch:          job.Reference.Name,
		AnalyzerVersion: job.AnalyzerVersion,
		SourceUnits:     job.SourceUnits,
	})
	if err != nil {
		return fmt.Errorf("pipeline: upload_scan: %w", err)
	}

	coord := store.Coordinate{
		IntegrationKind: w.integration.Kind,
		RemoteID:        string(w.integration.Remote),
		ReferenceID:     job.Reference.Coordinate(),
	}
	if err := w.state.SetState(ctx, coord, job.Reference.StateBytes(), job.Reference.IsBranch()); err != nil {
		return fmt.Errorf("pipeline: set_state: %w", err)
	}

	return nil
}
