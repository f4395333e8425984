package runner

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/promptforge/dispatch/dispatch/config"
	"github.com/promptforge/dispatch/dispatch/quota"
	"github.com/promptforge/dispatch/dispatch/runner/adapters"
	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// Factory creates and wires runner components from configuration. The
// surrounding worker process builds one factory at startup and shares
// the resulting registry across every dispatcher it runs; the quota
// domain is the process, not the job.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

// NewFactory creates a runner factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, logger: logger}
}

// CreateRegistry builds the process-wide quota registry from the
// configured per-class capacities.
func (f *Factory) CreateRegistry() *quota.Registry {
	classes := map[quota.Class]quota.ClassConfig{
		quota.ClassFast:  {Capacity: f.cfg.Quota.CapacityFast, Window: f.cfg.Quota.Window},
		quota.ClassHeavy: {Capacity: f.cfg.Quota.CapacityHeavy, Window: f.cfg.Quota.Window},
	}
	return quota.NewRegistry(classes, quota.DefaultRules(), quota.ClassFast, f.logger)
}

// CreateStore builds the libsql-backed job store.
func (f *Factory) CreateStore() ports.JobStore {
	return adapters.NewStoreLibSQL(f.db)
}

// CreateGenerator builds the HTTP generation client.
func (f *Factory) CreateGenerator() ports.Generator {
	return adapters.NewGeneratorHTTP(adapters.GeneratorHTTPConfig{
		Endpoint: f.cfg.Generator.Endpoint,
		APIKey:   f.cfg.Generator.APIKey,
		Timeout:  f.cfg.Generator.Timeout,
		RetryMax: f.cfg.Generator.RetryMax,
	})
}

// CreateDispatcher wires the full pipeline: dispatcher -> handler ->
// scheduler -> quota registry, with the aggregator writing through the
// store. The registry is shared; passing the same one to every
// dispatcher keeps the quota domain global.
func (f *Factory) CreateDispatcher(source ports.JobSource, registry *quota.Registry) (*Dispatcher, error) {
	store := f.CreateStore()
	scheduler := NewItemScheduler(registry, f.logger)
	aggregator := NewAggregator(store, f.logger)

	handler := NewHandler(
		scheduler,
		aggregator,
		f.CreateGenerator(),
		registry,
		map[quota.Class]int{
			quota.ClassFast:  f.cfg.Dispatch.MaxConcurrentItemsFast,
			quota.ClassHeavy: f.cfg.Dispatch.MaxConcurrentItemsHeavy,
		},
		f.logger,
	)

	return NewDispatcher(source, store, handler.HandleJob, f.cfg.Dispatch.MaxConcurrentJobs, f.logger)
}
