// Package pipeline runs one batch end to end: concurrent extraction and
// cleansing of the three feeds, then deduplication, key resolution, a single
// transactional load and the data-quality report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/fleximart/retail-etl/app/cleanse"
	"github.com/fleximart/retail-etl/app/config"
	"github.com/fleximart/retail-etl/app/dedupe"
	"github.com/fleximart/retail-etl/app/extract"
	"github.com/fleximart/retail-etl/app/load"
	"github.com/fleximart/retail-etl/app/logger"
	"github.com/fleximart/retail-etl/app/report"
	"github.com/fleximart/retail-etl/app/resolve"
	"github.com/fleximart/retail-etl/app/row"
	"github.com/fleximart/retail-etl/models"
)

// ErrNoAcceptedRows fails a run in which every source row was rejected,
// either by cleansing or by key resolution.
var ErrNoAcceptedRows = errors.New("no rows accepted")

type Pipeline struct {
	Sources      []extract.Source
	BufferSize   int
	StoreTimeout time.Duration

	Extractor *extract.Extractor
	Cleanser  *cleanse.Cleanser
	Keys      dedupe.KeyLookup
	Warehouse load.WarehouseReader
	Resolver  resolve.Resolver
	Loader    *load.Loader
	Emitter   report.Emitter
	Log       *logger.Logger
	Now       func() time.Time
}

// New wires a pipeline against db from cfg. Dimension rows without an
// effective_date change on the configured as-of date, or on the day now falls in.
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger, now func() time.Time) (*Pipeline, error) {
	asOf, err := cfg.AsOfDate(now())
	if err != nil {
		return nil, err
	}
	standardFrom, premiumFrom, err := cfg.Tiers()
	if err != nil {
		return nil, err
	}
	policy := cfg.RetryPolicy()

	return &Pipeline{
		Sources: []extract.Source{
			{Entity: row.Customers, Path: cfg.CustomersFile},
			{Entity: row.Products, Path: cfg.ProductsFile},
			{Entity: row.Sales, Path: cfg.SalesFile},
		},
		BufferSize:   cfg.BufferSize,
		StoreTimeout: cfg.StoreTimeout,
		Extractor:    extract.New(cfg.SourceTimeout, policy),
		Cleanser:     cleanse.New(cfg.CountryCode),
		Keys:         models.NewKeysRepository(db),
		Warehouse:    models.NewWarehouseRepository(db),
		Resolver:     resolve.Resolver{AsOf: asOf, StandardFrom: standardFrom, PremiumFrom: premiumFrom},
		Loader:       load.New(db, cfg.BatchSize, cfg.StoreTimeout, policy, log),
		Emitter: report.Emitter{
			TextPath: cfg.ReportFile,
			JSONPath: cfg.ReportJSONFile,
			Runs:     models.NewRunsRepository(db),
			Log:      log,
		},
		Log: log,
		Now: now,
	}, nil
}

// batch holds the accepted rows of every feed in source order.
type batch struct {
	customers []cleanse.Customer
	products  []cleanse.Product
	sales     []cleanse.SaleLine
}

// Run executes one batch. The report is emitted whatever the outcome; the
// returned error is non-nil when a source was unreadable, nothing was
// accepted, or the load rolled back.
func (p *Pipeline) Run(ctx context.Context) (report.Report, error) {
	sources := make(map[row.Entity]string, len(p.Sources))
	for _, s := range p.Sources {
		sources[s.Entity] = s.Path
	}
	collector := report.NewCollector(sources, p.Now())
	log := p.Log.With("run_id", collector.RunID())
	log.Info("etl run started", "sources", sources)

	runErr := p.run(ctx, collector, log)
	if runErr != nil {
		log.Error("etl run failed", "error", runErr)
	}

	r := collector.Finish(p.Now(), runErr)
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout())
	defer cancel()
	p.Emitter.Emit(emitCtx, r)
	return r, runErr
}

func (p *Pipeline) run(ctx context.Context, collector *report.Collector, log *logger.Logger) error {
	b, err := p.extract(ctx, collector)
	if err != nil {
		return err
	}
	if len(b.customers)+len(b.products)+len(b.sales) == 0 {
		return ErrNoAcceptedRows
	}
	log.Debug("cleansed", "customers", len(b.customers), "products", len(b.products), "sales", len(b.sales))

	if b, err = p.dedupe(ctx, collector, b); err != nil {
		return err
	}

	snapCtx, cancel := context.WithTimeout(ctx, p.storeTimeout())
	snap, err := load.Snapshot(snapCtx, p.Warehouse)
	cancel()
	if err != nil {
		return fmt.Errorf("read warehouse snapshot: %w", err)
	}

	plan, _ := p.Resolver.Resolve(snap, b.customers, b.products, b.sales)
	collector.Versions(plan)
	for _, rej := range plan.Rejected {
		collector.Reject(rej)
	}
	log.Debug("resolved", "customer_changes", len(plan.Customers), "product_changes", len(plan.Products), "facts", len(plan.Facts), "rejected", len(plan.Rejected))
	if len(plan.Customers)+len(plan.Products)+len(plan.Facts) == 0 {
		return ErrNoAcceptedRows
	}

	res, err := p.Loader.Load(ctx, plan)
	for _, rej := range res.Rejected {
		collector.Reject(rej)
	}
	if err != nil {
		return err
	}
	collector.Loaded(res.Loaded)
	return nil
}

// extract reads the feeds concurrently. Each extractor hands rows to its
// cleanser through a channel of BufferSize; a malformed record is counted and
// skipped, any other extraction error stops every feed.
func (p *Pipeline) extract(ctx context.Context, collector *report.Collector) (batch, error) {
	var b batch
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range p.Sources {
		switch src.Entity {
		case row.Customers:
			feed(ctx, g, p, collector, src, p.Cleanser.Customer, &b.customers)
		case row.Products:
			feed(ctx, g, p, collector, src, p.Cleanser.Product, &b.products)
		case row.Sales:
			feed(ctx, g, p, collector, src, p.Cleanser.Sale, &b.sales)
		default:
			return batch{}, fmt.Errorf("unknown source entity %q", src.Entity)
		}
	}
	if err := g.Wait(); err != nil {
		return batch{}, err
	}
	return b, nil
}

type extracted struct {
	row row.Row
	err error
}

func feed[T any](ctx context.Context, g *errgroup.Group, p *Pipeline, collector *report.Collector, src extract.Source, clean func(row.Row) row.Result[T], out *[]T) {
	rows := make(chan extracted, max(1, p.BufferSize))

	g.Go(func() error {
		defer close(rows)
		for r, err := range p.Extractor.Extract(ctx, src) {
			select {
			case rows <- extracted{row: r, err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for e := range rows {
			if e.err != nil {
				var malformed *row.MalformedRecordError
				if !errors.As(e.err, &malformed) {
					return fmt.Errorf("extract %s: %w", src.Entity, e.err)
				}
				collector.Read(src.Entity)
				collector.Reject(row.NewRejection(src.Entity, e.row.Line, "", row.StateRejected, e.err))
				continue
			}
			collector.Read(src.Entity)
			res := clean(e.row)
			report.Cleansed(collector, src.Entity, res)
			if res.Accepted() {
				*out = append(*out, res.Value)
			}
		}
		return nil
	})
}

func (p *Pipeline) dedupe(ctx context.Context, collector *report.Collector, b batch) (batch, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout())
	defer cancel()

	customers, rejected, err := dedupe.Dedupe(ctx, p.Keys, dedupe.Customers(), b.customers)
	if err != nil {
		return batch{}, err
	}
	route(collector, row.Customers, customers, rejected)

	products, rejected, err := dedupe.Dedupe(ctx, p.Keys, dedupe.Products(), b.products)
	if err != nil {
		return batch{}, err
	}
	route(collector, row.Products, products, rejected)

	sales, rejected, err := dedupe.Dedupe(ctx, p.Keys, dedupe.Sales(), b.sales)
	if err != nil {
		return batch{}, err
	}
	route(collector, row.Sales, sales, rejected)

	return batch{
		customers: dedupe.Values(customers),
		products:  dedupe.Values(products),
		sales:     dedupe.Values(sales),
	}, nil
}

func route[T any](collector *report.Collector, e row.Entity, keyed []dedupe.Keyed[T], rejected []row.Rejection) {
	for _, rej := range rejected {
		collector.Reject(rej)
	}
	report.Routed(collector, e, keyed)
}

func (p *Pipeline) storeTimeout() time.Duration {
	if p.StoreTimeout <= 0 {
		return 30 * time.Second
	}
	return p.StoreTimeout
}
