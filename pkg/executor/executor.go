// Package executor orchestrates pagination, extraction and typing for a
// query across one or more target entities.
package executor

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/extract"
	"github.com/jeanboutros/monday-grabber/pkg/metrics"
	"github.com/jeanboutros/monday-grabber/pkg/models"
	"github.com/jeanboutros/monday-grabber/pkg/pagination"
	"github.com/jeanboutros/monday-grabber/pkg/table"
)

// Executor runs configured queries end to end.
type Executor struct {
	transport   pagination.Transport
	logger      zerolog.Logger
	metrics     metrics.Collector
	concurrency int
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency bounds parallel entity fetches. Values below 2 keep the
// default sequential behavior. Parallelism is a throughput optimization
// only: result ordering and completeness are identical to sequential runs.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		e.concurrency = n
	}
}

// WithMetrics wires a metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = c
	}
}

// New creates an executor on the given transport.
func New(transport pagination.Transport, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		transport:   transport,
		logger:      logger.With().Str("component", "executor").Logger(),
		metrics:     metrics.NewNoOpCollector(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntityOutcome reports what happened to one entity's stream.
type EntityOutcome struct {
	Entity  string
	Pages   int
	Records int
	Err     error
}

// Result is the outcome of one execution. Outcomes always covers every
// requested entity; Errors lists attributable per-page and per-row failures
// collected under best-effort policies. Degraded marks a table that is
// valid and writable but known to be missing data.
type Result struct {
	RunID    string
	Query    string
	Table    *models.Table
	Outcomes []EntityOutcome
	Errors   []error
	Degraded bool
}

// FailedEntities returns the IDs of entities whose streams failed.
func (r *Result) FailedEntities() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o.Entity)
		}
	}
	return failed
}

// entityRun is one entity's private slot. Entities never share state during
// their fetch phases; slots are merged only after all of them resolve.
type entityRun struct {
	outcome  EntityOutcome
	records  []models.Record
	pageErrs []error
}

// Execute drives the full pipeline for spec over the given entities.
//
// Configuration problems abort before any network activity. Entity stream
// failures abort only that entity under best_effort, or the whole run under
// abort_all. Record order in the table follows the caller's entity order,
// then page order, then record order within a page.
func (e *Executor) Execute(ctx context.Context, spec *models.QuerySpec, entityIDs []string) (*Result, error) {
	expr, driver, builder, err := e.prepare(spec)
	if err != nil {
		return nil, err
	}
	if len(entityIDs) == 0 {
		return nil, errors.New(errors.CodeConfigInvalid, "no target entities supplied")
	}

	runID := uuid.NewString()
	logger := e.logger.With().Str("run_id", runID).Str("query", spec.Name).Logger()
	logger.Info().Strs("entities", entityIDs).Msg("starting run")

	runs := make([]*entityRun, len(entityIDs))
	e.forEachEntity(ctx, entityIDs, func(i int, id string) {
		runs[i] = e.runEntity(ctx, spec, driver, expr, id)
	})

	result := &Result{RunID: runID, Query: spec.Name}
	var records []models.Record
	for _, run := range runs {
		result.Outcomes = append(result.Outcomes, run.outcome)
		result.Errors = append(result.Errors, run.pageErrs...)
		if run.outcome.Err != nil {
			logger.Error().Err(run.outcome.Err).Str("entity", run.outcome.Entity).Msg("entity failed")
			if spec.Entities == models.EntityAbortAll {
				return result, errors.Wrapf(run.outcome.Err, errors.CodeInternal,
					"entity %s failed and policy is abort_all", run.outcome.Entity)
			}
			result.Degraded = true
			continue
		}
		records = append(records, run.records...)
	}

	tbl, rowErrs, err := builder.Build(records, spec.Columns)
	if err != nil {
		// Strict build failures return no partial table.
		return result, err
	}
	result.Table = tbl
	result.Errors = append(result.Errors, rowErrs...)
	if len(result.Errors) > 0 {
		result.Degraded = true
	}

	e.metrics.RecordGauge("rows_built", float64(tbl.NumRows()))
	logger.Info().
		Int("rows", tbl.NumRows()).
		Int("errors", len(result.Errors)).
		Bool("degraded", result.Degraded).
		Msg("run finished")
	return result, nil
}

// prepare validates the spec and compiles everything that can fail fast.
func (e *Executor) prepare(spec *models.QuerySpec) (*extract.Expression, *pagination.Driver, *table.Builder, error) {
	if spec == nil {
		return nil, nil, nil, errors.New(errors.CodeConfigInvalid, "nil query spec")
	}
	if spec.Document == "" {
		return nil, nil, nil, errors.New(errors.CodeConfigInvalid, "query spec has no document")
	}
	if !spec.Rows.Valid() {
		return nil, nil, nil, errors.Newf(errors.CodeConfigInvalid, "unknown row policy %q", spec.Rows)
	}
	if !spec.Entities.Valid() {
		return nil, nil, nil, errors.Newf(errors.CodeConfigInvalid, "unknown entity policy %q", spec.Entities)
	}
	if err := spec.Columns.Validate(); err != nil {
		return nil, nil, nil, err
	}
	expr, err := extract.Compile(spec.Transform)
	if err != nil {
		return nil, nil, nil, err
	}
	driver, err := pagination.NewDriver(e.transport, spec.Pagination, e.logger, e.metrics)
	if err != nil {
		return nil, nil, nil, err
	}
	builder, err := table.NewBuilder(spec.Rows, e.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return expr, driver, builder, nil
}

// runEntity drives one entity's page chain and extracts its records.
func (e *Executor) runEntity(ctx context.Context, spec *models.QuerySpec, driver *pagination.Driver, expr *extract.Expression, entityID string) *entityRun {
	run := &entityRun{outcome: EntityOutcome{Entity: entityID}}

	stream := driver.Drive(spec.Document, spec.VariablesForEntity(entityID), entityID)
	for stream.Next(ctx) {
		page := stream.Page()
		run.outcome.Pages++

		raw, err := expr.Records(page.Payload)
		if err != nil {
			pageErr := attachPage(err, entityID, page.Seq)
			if spec.Rows == models.RowStrict {
				// Fail-fast mode: a structural error poisons the entity.
				run.outcome.Err = pageErr
				return run
			}
			e.metrics.IncrementCounter("extraction_errors", "entity", entityID)
			run.pageErrs = append(run.pageErrs, pageErr)
			continue
		}
		for i, values := range raw {
			run.records = append(run.records, models.Record{
				Values:     values,
				Provenance: errors.AtRecord(entityID, page.Seq, i),
			})
		}
	}
	run.outcome.Err = stream.Err()
	run.outcome.Records = len(run.records)
	return run
}

// forEachEntity runs fn for every entity, sequentially or under a bounded
// worker pool. Each invocation writes only to its own index.
func (e *Executor) forEachEntity(ctx context.Context, entityIDs []string, fn func(i int, id string)) {
	if e.concurrency < 2 || len(entityIDs) < 2 {
		for i, id := range entityIDs {
			fn(i, id)
		}
		return
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, id := range entityIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i, id)
		}(i, id)
	}
	wg.Wait()
}

func attachPage(err error, entity string, page int) error {
	var ge *errors.GrabError
	if stderrors.As(err, &ge) {
		return ge.WithProvenance(errors.AtPage(entity, page))
	}
	return errors.Wrap(err, errors.CodeExtractionFailed, "extraction failed").
		WithProvenance(errors.AtPage(entity, page))
}
