package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/queue"
	"github.com/fossas/broker/internal/ratelimit"
	"github.com/fossas/broker/internal/store"
	"github.com/fossas/broker/internal/transport"
	"github.com/fossas/broker/internal/upload"
)

// scanQueueCapacity and uploadQueueCapacity bound the two queues each
// Pipeline owns. The scan queue can run fairly deep: scans can accumulate
// faster than a single analyzer run drains them, but must not grow
// unbounded. The upload queue is kept small — its jobs carry a full
// analyzer source-unit payload, so a deep backlog of them holds far more
// memory and disk than the same depth of scan jobs.
const (
	scanQueueCapacity   = 64
	uploadQueueCapacity = 5
)

// Pipeline is the per-integration three-stage scan pipeline: a poll
// worker feeding a scan worker feeding an upload worker, through two
// durable queues.
type Pipeline struct {
	integration config.Integration
	scanQueue   *queue.Queue
	uploadQueue *queue.Queue
	poll        *pollWorker
	scan        *scanWorker
	upload      *uploadWorker
}

// Deps bundles the collaborators a Pipeline needs beyond its own
// integration config: the per-integration transport, the shared state
// store, the shared analyzer manager, and the shared upload client. State
// store, analyzer manager, and upload client are safe for concurrent use
// across every integration's Pipeline.
type Deps struct {
	Transport transport.Transport
	State     store.Store
	Analyzer  *analyzer.Manager
	Uploader  *upload.Client
	Logger    *zap.Logger
	// DataRoot is the broker's data directory; each integration's queues
	// live under <data-root>/queue/<integration-kind>-<index>/.
	DataRoot string
	// Index disambiguates multiple integrations of the same kind so their
	// on-disk queue directories never collide.
	Index int
}

// New builds a Pipeline for one configured integration, opening its two
// on-disk queues under deps.DataRoot and locating the analyzer binary once,
// up front, so a missing/undownloadable analyzer fails pipeline setup
// instead of the first scan job.
func New(ctx context.Context, integration config.Integration, deps Deps) (*Pipeline, error) {
	binaryPath, err := deps.Analyzer.Locate(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to locate analyzer: %w", err)
	}

	queueDir := filepath.Join(deps.DataRoot, "queue", fmt.Sprintf("%s-%d", integration.Kind, deps.Index))

	scanQueue, err := queue.Open(filepath.Join(queueDir, "scan"), scanQueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to open scan queue: %w", err)
	}
	uploadQueue, err := queue.Open(filepath.Join(queueDir, "upload"), uploadQueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to open upload queue: %w", err)
	}

	scanSender, err := scanQueue.OpenSender()
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to open scan queue sender: %w", err)
	}
	scanReceiver, err := scanQueue.OpenReceiver()
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to open scan queue receiver: %w", err)
	}
	uploadSender, err := uploadQueue.OpenSender()
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to open upload queue sender: %w", err)
	}
	uploadReceiver, err := uploadQueue.OpenReceiver()
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to open upload queue receiver: %w", err)
	}

	logger := deps.Logger.Named("pipeline").With(zap.String("integration", integration.Kind), zap.String("remote", string(integration.Remote)))

	return &Pipeline{
		integration: integration,
		scanQueue:   scanQueue,
		uploadQueue: uploadQueue,
		poll: &pollWorker{
			integration: integration,
			transport:   deps.Transport,
			state:       deps.State,
			sender:      scanSender,
			logger:      logger.Named("poll"),
		},
		scan: &scanWorker{
			integration: integration,
			transport:   deps.Transport,
			analyzer:    deps.Analyzer,
			binaryPath:  binaryPath,
			receiver:    scanReceiver,
			sender:      uploadSender,
			logger:      logger.Named("scan"),
		},
		upload: &uploadWorker{
			integration: integration,
			client:      deps.Uploader,
			state:       deps.State,
			limiter:     ratelimit.New(ratelimit.PerMinute),
			receiver:    uploadReceiver,
			logger:      logger.Named("upload"),
		},
	}, nil
}

// Run starts the poll, scan, and upload workers and blocks until ctx is
// cancelled and all three have returned.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); p.poll.run(ctx) }()
	go func() { defer wg.Done(); p.scan.run(ctx) }()
	go func() { defer wg.Done(); p.upload.run(ctx) }()

	wg.Wait()
}

// Housekeeping deletes all persisted state for a ref-kind whose import has
// been disabled in configuration: run once at startup, before the poll
// worker's first cycle.
func Housekeeping(ctx context.Context, integration config.Integration, st store.Store) error {
	if !integration.ImportBranches.Enabled {
		if err := st.DeleteStates(ctx, string(integration.Remote), true); err != nil {
			return fmt.Errorf("pipeline: housekeeping: failed to delete branch states: %w", err)
		}
	}
	if !integration.ImportTags.Enabled {
		if err := st.DeleteStates(ctx, string(integration.Remote), false); err != nil {
			return fmt.Errorf("pipeline: housekeeping: failed to delete tag states: %w", err)
		}
	}
	return nil
}
