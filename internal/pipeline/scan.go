package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/queue"
	"github.com/fossas/broker/internal/transport"
)

// scanWorker runs scan_one in a loop: forever receive from the scan
// queue, clone the reference, invoke the analyzer, and enqueue the
// resulting UploadJob.
type scanWorker struct {
	integration config.Integration
	transport   transport.Transport
	analyzer    *analyzer.Manager
	// binaryPath is resolved once, by Pipeline.New, before the worker ever
	// starts; scanOne reuses it rather than re-probing the analyzer on
	// every job.
	binaryPath string
	receiver   *queue.Receiver
	sender     *queue.Sender
	logger     *zap.Logger
}

func (w *scanWorker) run(ctx context.Context) {
	for {
		handle, err := w.receiver.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("scan queue receive failed", zap.Error(err))
			continue
		}

		var job ScanJob
		if err := handle.Decode(&job); err != nil {
			w.logger.Warn("failed to decode scan job", zap.Error(err))
			continue
		}

		upload, err := w.scanOne(ctx, job)
		if err != nil {
			w.logger.Warn("scan failed", zap.String("scan_id", job.ScanID.String()),
				zap.String("reference", job.Reference.DisplayName()), zap.Error(err))
			// Drop the failed job so it is not redelivered on the next Recv;
			// no state was written, so a later poll emits it again.
			if ctx.Err() == nil {
				if cerr := handle.Commit(); cerr != nil {
					w.logger.Warn("failed to commit scan queue receipt", zap.Error(cerr))
				}
			}
			continue
		}

		if err := w.sender.Send(ctx, *upload); err != nil {
			w.logger.Warn("failed to enqueue upload job", zap.Error(err))
			continue
		}
		if err := handle.Commit(); err != nil {
			w.logger.Warn("failed to commit scan queue receipt", zap.Error(err))
		}
	}
}

// scanOne clones the reference and runs the analyzer against it, reusing
// the binary path resolved once at pipeline startup.
func (w *scanWorker) scanOne(ctx context.Context, job ScanJob) (*UploadJob, error) {
	tree, err := w.transport.CloneReference(ctx, job.Reference)
	if err != nil {
		return nil, fmt.Errorf("pipeline: clone_reference: %w", err)
	}
	defer tree.Close()

	version, err := w.analyzer.Version(ctx, w.binaryPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: analyzer version: %w", err)
	}

	sourceUnits, err := w.analyzer.Analyze(ctx, w.binaryPath, tree.Dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: analyze: %w", err)
	}

	return &UploadJob{
		ScanID:          job.ScanID,
		Reference:       job.Reference,
		AnalyzerVersion: version,
		SourceUnits:     sourceUnits,
	}, nil
}
