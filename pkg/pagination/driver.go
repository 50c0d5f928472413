// Package pagination drives the cursor-based page protocol for one entity.
//
// A stream is finite and not restartable: each request's cursor is strictly
// the next-cursor extracted from the prior page, so replaying a chain means
// starting over from the initial variables. The driver never retries; that
// is the transport's concern.
package pagination

import (
	"context"
	stderrors "errors"

	"github.com/rs/zerolog"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/extract"
	"github.com/jeanboutros/monday-grabber/pkg/metrics"
	"github.com/jeanboutros/monday-grabber/pkg/models"
)

// DefaultMaxPages caps a page chain when the rule does not set its own
// limit. It exists to turn a misbehaving API that returns a cursor cycle
// into a loud failure instead of an infinite loop.
const DefaultMaxPages = 1000

// Transport issues one GraphQL round-trip. Implemented by client.Client;
// tests substitute fakes.
type Transport interface {
	Post(ctx context.Context, document string, variables map[string]interface{}) (map[string]interface{}, error)
}

// Driver creates page streams for entities of one query.
type Driver struct {
	transport  Transport
	rule       models.PaginationRule
	cursorPath *extract.Expression
	maxPages   int
	logger     zerolog.Logger
	metrics    metrics.Collector
}

// NewDriver compiles the rule's cursor path and returns a driver. An
// invalid cursor path is a configuration error, caught before any request.
func NewDriver(transport Transport, rule models.PaginationRule, logger zerolog.Logger, collector metrics.Collector) (*Driver, error) {
	if transport == nil {
		return nil, errors.New(errors.CodeConfigInvalid, "pagination driver requires a transport")
	}
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	d := &Driver{
		transport: transport,
		rule:      rule,
		maxPages:  rule.MaxPages,
		logger:    logger.With().Str("component", "pagination").Logger(),
		metrics:   collector,
	}
	if d.maxPages <= 0 {
		d.maxPages = DefaultMaxPages
	}
	if rule.Enabled {
		if rule.CursorPath == "" {
			return nil, errors.New(errors.CodeConfigInvalid, "pagination enabled but cursor_path is empty")
		}
		if rule.CursorVariable == "" {
			return nil, errors.New(errors.CodeConfigInvalid, "pagination enabled but cursor_variable is empty")
		}
		path, err := extract.Compile(rule.CursorPath)
		if err != nil {
			return nil, err
		}
		d.cursorPath = path
	}
	return d, nil
}

// Drive starts a fresh page stream for one entity. The initial variables
// are copied, never mutated.
func (d *Driver) Drive(document string, variables map[string]interface{}, entity string) *Stream {
	vars := make(map[string]interface{}, len(variables)+1)
	for k, v := range variables {
		vars[k] = v
	}
	return &Stream{
		driver:   d,
		document: document,
		vars:     vars,
		entity:   entity,
	}
}

// Stream is a lazy, pull-based sequence of PageResults for one entity.
// Usage follows the scanner idiom:
//
//	s := driver.Drive(doc, vars, id)
//	for s.Next(ctx) {
//	    page := s.Page()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	driver   *Driver
	document string
	vars     map[string]interface{}
	entity   string

	page   *models.PageResult
	seq    int
	cursor string
	done   bool
	err    error
}

// Next fetches the next page. It returns false when the stream is terminal
// or failed; Err disambiguates. Cancellation is honored between fetches, an
// in-flight fetch completes first.
func (s *Stream) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = errors.Wrap(err, errors.CodeCanceled, "pagination canceled").
			WithProvenance(errors.AtEntity(s.entity))
		return false
	}
	if s.seq >= s.driver.maxPages {
		s.err = errors.Newf(errors.CodePaginationOverrun,
			"page chain exceeded safety cap of %d pages", s.driver.maxPages).
			WithProvenance(errors.AtEntity(s.entity))
		return false
	}

	timer := s.driver.metrics.StartTimer("page_fetch_seconds")
	payload, err := s.driver.transport.Post(ctx, s.document, s.vars)
	timer.Stop()
	if err != nil {
		s.driver.metrics.IncrementCounter("page_fetch_errors", "entity", s.entity)
		s.err = pinProvenance(err, errors.AtPage(s.entity, s.seq))
		return false
	}
	s.driver.metrics.IncrementCounter("pages_fetched", "entity", s.entity)

	page := &models.PageResult{
		Entity:  s.entity,
		Seq:     s.seq,
		Cursor:  s.cursor,
		Payload: payload,
	}

	next, terminal, err := s.driver.nextCursor(payload)
	if err != nil {
		s.err = pinProvenance(err, errors.AtPage(s.entity, s.seq))
		return false
	}
	if !terminal {
		page.NextCursor = &next
		s.vars[s.driver.rule.CursorVariable] = next
		s.cursor = next
	} else {
		s.done = true
	}

	s.driver.logger.Debug().
		Str("entity", s.entity).
		Int("seq", s.seq).
		Bool("terminal", terminal).
		Msg("page fetched")

	s.page = page
	s.seq++
	return true
}

// Page returns the page produced by the last successful Next.
func (s *Stream) Page() *models.PageResult {
	return s.page
}

// Err returns the failure that ended the stream, nil on normal exhaustion.
func (s *Stream) Err() error {
	return s.err
}

// Collect drains the stream. Pages fetched before a failure remain valid
// and are returned alongside the error.
func (s *Stream) Collect(ctx context.Context) ([]*models.PageResult, error) {
	var pages []*models.PageResult
	for s.Next(ctx) {
		pages = append(pages, s.Page())
	}
	return pages, s.Err()
}

// pinProvenance attaches page coordinates to an error, wrapping foreign
// errors as network-class transport failures.
func pinProvenance(err error, p errors.Provenance) error {
	var ge *errors.GrabError
	if stderrors.As(err, &ge) {
		return ge.WithProvenance(p)
	}
	return errors.Wrap(err, errors.CodeTransportNetwork, "page fetch failed").WithProvenance(p)
}

// nextCursor extracts the follow-up cursor from a payload. Terminal is
// reported when the cursor is absent, null, or equals the rule's sentinel.
// The check is a pure function of the payload, so presenting the same
// terminal payload twice yields terminal both times.
func (d *Driver) nextCursor(payload map[string]interface{}) (string, bool, error) {
	if !d.rule.Enabled {
		return "", true, nil
	}
	cursor, found, err := d.cursorPath.FirstString(payload)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", true, nil
	}
	if d.rule.Sentinel != "" && cursor == d.rule.Sentinel {
		return "", true, nil
	}
	return cursor, false, nil
}
