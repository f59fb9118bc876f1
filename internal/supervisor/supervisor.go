// Package supervisor wires the broker's top-level concurrency:
// preflight connectivity checks, a healthcheck loop, and one pipeline per
// configured integration, run with "first error wins, cancel the rest"
// semantics: sequential setup of optional subsystems, a
// signal-aware context, and a goroutine-plus-blocking-call shape per
// subsystem, fanned out with golang.org/x/sync/errgroup, the idiomatic
// shape for cancel-on-first-error.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/brokererr"
	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/pipeline"
	"github.com/fossas/broker/internal/store"
	"github.com/fossas/broker/internal/transport"
	"github.com/fossas/broker/internal/upload"
)

// HealthcheckInterval is how often the healthcheck loop polls the store.
const HealthcheckInterval = 60 * time.Second

// TransportFactory builds a transport.Transport for one integration. Given
// by the caller so the supervisor never constructs git transports itself —
// keeping the dependency direction the same as the rest of the package
// graph (pipeline and supervisor depend on transport, not vice versa).
type TransportFactory func(config.Integration) (transport.Transport, error)

// Supervisor runs preflight checks, the healthcheck loop, and one Pipeline
// per integration.
type Supervisor struct {
	cfg          *config.Config
	state        store.Store
	analyzer     *analyzer.Manager
	uploader     *upload.Client
	newTransport TransportFactory
	dataRoot     string
	logger       *zap.Logger
}

// Config configures a Supervisor.
type Config struct {
	Broker       *config.Config
	State        store.Store
	Analyzer     *analyzer.Manager
	Uploader     *upload.Client
	NewTransport TransportFactory
	DataRoot     string
	Logger       *zap.Logger
}

// New returns a Supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:          cfg.Broker,
		state:        cfg.State,
		analyzer:     cfg.Analyzer,
		uploader:     cfg.Uploader,
		newTransport: cfg.NewTransport,
		dataRoot:     cfg.DataRoot,
		logger:       cfg.Logger.Named("supervisor"),
	}
}

// Run executes preflight checks, then runs the healthcheck loop and every
// integration's pipeline concurrently until ctx is cancelled or any one of
// them returns a fatal error.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.preflight(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.healthcheckLoop(gctx)
	})

	for i, integration := range s.cfg.Integrations {
		integration := integration
		index := i
		g.Go(func() error {
			return s.runIntegration(gctx, integration, index)
		})
	}

	return g.Wait()
}

// preflight runs the two startup checks: at least one integration's
// list_references must succeed, and the service's organization lookup
// must succeed.
func (s *Supervisor) preflight(ctx context.Context) error {
	if len(s.cfg.Integrations) > 0 {
		var lastErr error
		ok := false
		for _, integration := range s.cfg.Integrations {
			t, err := s.newTransport(integration)
			if err != nil {
				lastErr = err
				continue
			}
			if _, err := t.ListReferences(ctx); err != nil {
				lastErr = err
				continue
			}
			ok = true
			break
		}
		if !ok {
			return brokererr.New("supervisor.preflight", brokererr.KindPreflightFailed, lastErr,
				"no configured integration could list references; run the diagnostic subcommand to investigate connectivity")
		}
	}

	if _, err := s.uploader.OrgID(ctx); err != nil {
		return brokererr.New("supervisor.preflight", brokererr.KindPreflightFailed, err,
			"the analysis service is unreachable or the configured key was rejected; run the diagnostic subcommand")
	}

	return nil
}

// healthcheckLoop runs the state store's Healthcheck every
// HealthcheckInterval; any failure is fatal.
func (s *Supervisor) healthcheckLoop(ctx context.Context) error {
	ticker := time.NewTicker(HealthcheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.state.Healthcheck(ctx); err != nil {
				return brokererr.New("supervisor.healthcheck", brokererr.KindHealthcheck, err,
					"the state store stopped answering health checks")
			}
		}
	}
}

// runIntegration performs startup housekeeping, builds the integration's
// transport, and runs its Pipeline until ctx is cancelled.
func (s *Supervisor) runIntegration(ctx context.Context, integration config.Integration, index int) error {
	if err := pipeline.Housekeeping(ctx, integration, s.state); err != nil {
		return err
	}

	t, err := s.newTransport(integration)
	if err != nil {
		return fmt.Errorf("supervisor: failed to build transport for %s: %w", integration.Kind, err)
	}

	p, err := pipeline.New(ctx, integration, pipeline.Deps{
		Transport: t,
		State:     s.state,
		Analyzer:  s.analyzer,
		Uploader:  s.uploader,
		Logger:    s.logger,
		DataRoot:  s.dataRoot,
		Index:     index,
	})
	if err != nil {
		return fmt.Errorf("supervisor: failed to build pipeline for %s: %w", integration.Kind, err)
	}

	p.Run(ctx)
	return nil
}
