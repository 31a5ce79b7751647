package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vertec-io/hyperfactory-waitlist/internal/cleanup"
	"github.com/vertec-io/hyperfactory-waitlist/internal/client"
	"github.com/vertec-io/hyperfactory-waitlist/internal/config"
	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
	"github.com/vertec-io/hyperfactory-waitlist/internal/odoo"
	"github.com/vertec-io/hyperfactory-waitlist/internal/service"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	guard  *guard.Guard

	// Clients
	odooClient  *odoo.Client
	odooService *odoo.Service
	events      *client.EventPublisher
	audit       *client.AuditSink

	// Background workers
	scheduler *cleanup.Scheduler
	janitor   *cleanup.Janitor

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if errs := cfg.Validate(); len(errs) > 0 {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("invalid configuration: %v", errs)
		}
		for _, err := range errs {
			util.Warn("Configuration warning", util.ErrorField(err))
		}
	}

	f := &Factory{
		config: cfg,
		guard:  guard.New(),
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.scheduler = cleanup.NewScheduler(f.guard, f.odooService)
	f.janitor = cleanup.NewJanitor(f.guard)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", f.events != nil),
		util.Bool("clickhouse_enabled", f.audit != nil),
	)

	return f, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Odoo is the system of record: in production the service cannot run
	// without it, in development we warn and let requests fail later.
	odooClient, err := odoo.NewClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("odoo: %w", err)
	}
	f.odooClient = odooClient
	if err := f.odooClient.HealthCheck(ctx); err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("odoo health check: %w", err)
		}
		util.Warn("Odoo health check failed - CRM calls will error until it recovers", util.ErrorField(err))
	} else {
		util.Info("Odoo client initialized and healthy")
	}
	f.odooService = odoo.NewService(f.odooClient, util.Get())

	// Kafka
	if f.config.KafkaEnabled() {
		if events, err := client.NewEventPublisher(f.config); err != nil {
			util.Warn("Kafka publisher initialization failed - proceeding without events", util.ErrorField(err))
		} else {
			f.events = events
		}
	}

	// ClickHouse
	if f.config.ClickhouseEnabled() {
		if audit, err := client.NewAuditSink(f.config); err != nil {
			util.Warn("ClickHouse audit sink initialization failed - proceeding without audit", util.ErrorField(err))
		} else {
			f.audit = audit
		}
	}

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Guard() *guard.Guard {
	return f.guard
}

func (f *Factory) Scheduler() *cleanup.Scheduler {
	return f.scheduler
}

// ServiceFactory returns the service factory (singleton)
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(f.guard, f.odooService, f.events, f.audit)
	}
	return f.serviceFactory
}

// StartBackgroundWorkers arms the reconciliation scheduler and the guard
// janitor. Called once the HTTP server is about to come up.
func (f *Factory) StartBackgroundWorkers() {
	f.scheduler.Start()
	f.janitor.Start()
}

// HealthCheck reports per-dependency health.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.odooClient != nil {
		if err := f.odooClient.HealthCheck(ctx); err != nil {
			healthErrors["odoo"] = err
		}
	} else {
		healthErrors["odoo"] = fmt.Errorf("odoo client not initialized")
	}

	return healthErrors
}

// Close shuts down background workers and external clients. Safe to call
// more than once.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.scheduler != nil {
			f.scheduler.Stop()
		}
		if f.janitor != nil {
			f.janitor.Stop()
		}

		if f.events != nil {
			if err := f.events.Close(); err != nil {
				util.Error("Failed to close Kafka publisher", util.ErrorField(err))
			}
		}

		if f.audit != nil {
			if err := f.audit.Close(); err != nil {
				util.Error("Failed to close ClickHouse audit sink", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown complete")
		util.Sync()
	})
	return nil
}
