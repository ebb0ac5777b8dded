// Package report collects per-run data-quality counters and writes them to a
// text file, an optional JSON file, the log and the etl_runs table.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/fleximart/retail-etl/app/dedupe"
	"github.com/fleximart/retail-etl/app/logger"
	"github.com/fleximart/retail-etl/app/resolve"
	"github.com/fleximart/retail-etl/app/row"
	"github.com/fleximart/retail-etl/models"
)

// Source files and target tables, in report order.
var entityOrder = []row.Entity{row.Customers, row.Products, row.Sales}

var entityTables = map[row.Entity][]string{
	row.Customers: {"customers", "dim_customer"},
	row.Products:  {"products", "dim_product"},
	row.Sales:     {"orders", "order_items", "fact_sales"},
}

// EntityStats counts what happened to one source's rows.
type EntityStats struct {
	Source         string `json:"source"`
	Read           int    `json:"read"`
	Accepted       int    `json:"accepted"`
	Rejected       int    `json:"rejected"`
	Repaired       int    `json:"repaired"`
	Duplicates     int    `json:"duplicates"`
	Inserted       int    `json:"inserted"`
	Updated        int    `json:"updated"`
	VersionsOpened int    `json:"versions_opened"`
	VersionsClosed int    `json:"versions_closed"`
	// VersionsCorrected counts current versions rewritten in place by a
	// change dated on their start day. Their surrogate key is unchanged.
	VersionsCorrected int                `json:"versions_corrected"`
	Reasons           map[row.Reason]int `json:"reasons"`
	Samples           []RejectionSample  `json:"samples,omitempty"`
}

// RejectionSample is one rejected row kept for the report.
type RejectionSample struct {
	Line    int        `json:"line"`
	Key     string     `json:"key,omitempty"`
	State   row.State  `json:"state"`
	Reason  row.Reason `json:"reason"`
	Message string     `json:"message"`
}

// maxSamples caps the rejected rows listed per reason.
const maxSamples = 5

// Report is the summary of one run.
type Report struct {
	RunID      string                      `json:"run_id"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Status     string                      `json:"status"`
	Error      string                      `json:"error,omitempty"`
	Entities   map[row.Entity]*EntityStats `json:"entities"`
	Loaded     map[string]int              `json:"loaded"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Collector accumulates counters from concurrent stages.
type Collector struct {
	mu     sync.Mutex
	report Report
}

func NewCollector(sources map[row.Entity]string, now time.Time) *Collector {
	r := Report{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Entities:  map[row.Entity]*EntityStats{},
		Loaded:    map[string]int{},
	}
	for _, e := range entityOrder {
		r.Entities[e] = &EntityStats{Source: sources[e], Reasons: map[row.Reason]int{}}
	}
	return &Collector{report: r}
}

func (c *Collector) RunID() string { return c.report.RunID }

func (c *Collector) stats(e row.Entity) *EntityStats {
	s, ok := c.report.Entities[e]
	if !ok {
		s = &EntityStats{Reasons: map[row.Reason]int{}}
		c.report.Entities[e] = s
	}
	return s
}

// Read counts a row produced by the extractor, parsed or not.
func (c *Collector) Read(e row.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats(e).Read++
}

// Cleansed counts the outcome of cleansing one row.
func Cleansed[T any](c *Collector, e row.Entity, res row.Result[T]) {
	if !res.Accepted() {
		c.Reject(*res.Rejection)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats(e)
	s.Accepted++
	s.Repaired += res.Repaired
}

// Reject records a row that left the pipeline. Rows rejected after
// cleansing are taken off the accepted count.
func (c *Collector) Reject(rej row.Rejection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats(rej.Entity)
	s.Reasons[rej.Reason]++
	switch rej.State {
	case row.StateDroppedDuplicate:
		s.Duplicates++
		s.Accepted--
	case row.StateKeyResolutionFailed, row.StateLoadFailed:
		s.Rejected++
		s.Accepted--
	default:
		s.Rejected++
	}
	if n := countSamples(s.Samples, rej.Reason); n < maxSamples {
		s.Samples = append(s.Samples, RejectionSample{
			Line:    rej.Line,
			Key:     rej.Key,
			State:   rej.State,
			Reason:  rej.Reason,
			Message: rej.Message(),
		})
	}
}

func countSamples(samples []RejectionSample, reason row.Reason) int {
	n := 0
	for _, s := range samples {
		if s.Reason == reason {
			n++
		}
	}
	return n
}

// Routed counts inserts and updates decided by the deduplicator.
func Routed[T any](c *Collector, e row.Entity, keyed []dedupe.Keyed[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats(e)
	for _, k := range keyed {
		if k.Op == dedupe.Update {
			s.Updated++
		} else {
			s.Inserted++
		}
	}
}

// Versions counts Type-2 versions opened and closed by a plan.
func (c *Collector) Versions(plan resolve.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tally := func(s *EntityStats, kind resolve.ChangeKind) {
		switch kind {
		case resolve.Inserted:
			s.VersionsOpened++
		case resolve.Versioned:
			s.VersionsOpened++
			s.VersionsClosed++
		case resolve.Corrected:
			s.VersionsCorrected++
		}
	}
	for _, ch := range plan.Customers {
		tally(c.stats(row.Customers), ch.Kind)
	}
	for _, ch := range plan.Products {
		tally(c.stats(row.Products), ch.Kind)
	}
}

// Loaded adds rows written per table.
func (c *Collector) Loaded(tables map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, n := range tables {
		c.report.Loaded[t] += n
	}
}

// Finish stamps the outcome and returns a copy of the report.
func (c *Collector) Finish(now time.Time, runErr error) Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.FinishedAt = now
	c.report.Status = StatusSucceeded
	if runErr != nil {
		c.report.Status = StatusFailed
		c.report.Error = runErr.Error()
	}
	return c.report
}

// Totals sums the per-entity counters.
func (r Report) Totals() EntityStats {
	var t EntityStats
	for _, s := range r.Entities {
		t.Read += s.Read
		t.Accepted += s.Accepted
		t.Rejected += s.Rejected
		t.Repaired += s.Repaired
		t.Duplicates += s.Duplicates
		t.Inserted += s.Inserted
		t.Updated += s.Updated
		t.VersionsOpened += s.VersionsOpened
		t.VersionsClosed += s.VersionsClosed
		t.VersionsCorrected += s.VersionsCorrected
	}
	return t
}

// WriteText renders the plain-text report.
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintln(&b, "FlexiMart ETL - Data Quality Report")
	fmt.Fprintln(&b, strings.Repeat("=", 40))
	fmt.Fprintf(&b, "Run ID:   %s\n", r.RunID)
	fmt.Fprintf(&b, "Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n", r.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status:   %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", r.Error)
	}
	fmt.Fprintln(&b)

	for _, e := range entityOrder {
		s, ok := r.Entities[e]
		if !ok {
			continue
		}
		loaded := 0
		if tables := entityTables[e]; len(tables) > 0 {
			loaded = r.Loaded[tables[0]]
		}
		fmt.Fprintf(&b, "[%s] -> %s\n", s.Source, strings.Join(entityTables[e], ", "))
		fmt.Fprintf(&b, "  Records processed: %d\n", s.Read)
		fmt.Fprintf(&b, "  Records accepted: %d\n", s.Accepted)
		fmt.Fprintf(&b, "  Records rejected: %d\n", s.Rejected)
		fmt.Fprintf(&b, "  Duplicates removed: %d\n", s.Duplicates)
		fmt.Fprintf(&b, "  Missing values handled: %d\n", s.Repaired)
		fmt.Fprintf(&b, "  Inserted / updated: %d / %d\n", s.Inserted, s.Updated)
		if e != row.Sales {
			fmt.Fprintf(&b, "  Versions opened / closed: %d / %d\n", s.VersionsOpened, s.VersionsClosed)
			fmt.Fprintf(&b, "  Versions corrected in place: %d\n", s.VersionsCorrected)
		}
		fmt.Fprintf(&b, "  Records loaded successfully: %d\n", loaded)

		reasons := make([]string, 0, len(s.Reasons))
		for reason := range s.Reasons {
			reasons = append(reasons, string(reason))
		}
		slices.Sort(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(&b, "    %s: %d\n", reason, s.Reasons[row.Reason(reason)])
		}
		for _, sample := range s.Samples {
			fmt.Fprintf(&b, "    line %d %s: %s\n", sample.Line, sample.Key, sample.Message)
		}
		fmt.Fprintln(&b)
	}

	tables := make([]string, 0, len(r.Loaded))
	for t := range r.Loaded {
		tables = append(tables, t)
	}
	slices.Sort(tables)
	fmt.Fprintln(&b, "Rows loaded per table:")
	for _, t := range tables {
		fmt.Fprintf(&b, "  %s: %d\n", t, r.Loaded[t])
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.EtlRun) error
}

// Emitter sends a finished report to its sinks.
type Emitter struct {
	TextPath string
	JSONPath string
	Runs     RunRecorder
	Log      *logger.Logger
}

// Emit writes every configured sink. A failing sink is logged and the others
// still run.
func (e Emitter) Emit(ctx context.Context, r Report) {
	totals := r.Totals()
	e.Log.Info("etl run finished",
		"run_id", r.RunID,
		"status", r.Status,
		"read", totals.Read,
		"accepted", totals.Accepted,
		"rejected", totals.Rejected,
		"duplicates", totals.Duplicates,
		"repaired", totals.Repaired,
		"versions_opened", totals.VersionsOpened,
		"versions_closed", totals.VersionsClosed,
		"versions_corrected", totals.VersionsCorrected,
		"loaded", r.Loaded,
	)

	if e.TextPath != "" {
		if err := writeFile(e.TextPath, r.WriteText); err != nil {
			e.Log.Error("write text report", "path", e.TextPath, "error", err)
		}
	}
	if e.JSONPath != "" {
		err := writeFile(e.JSONPath, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		})
		if err != nil {
			e.Log.Error("write json report", "path", e.JSONPath, "error", err)
		}
	}
	if e.Runs != nil {
		if err := e.Runs.CreateRun(ctx, r.Model()); err != nil {
			e.Log.Error("record run", "run_id", r.RunID, "error", err)
		}
	}
}

// Model converts the report into its etl_runs row.
func (r Report) Model() *models.EtlRun {
	totals := r.Totals()
	body, err := json.Marshal(r)
	if err != nil {
		body = []byte("{}")
	}
	return &models.EtlRun{
		RunID:          r.RunID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Status:         r.Status,
		Error:          r.Error,
		RowsRead:       totals.Read,
		RowsAccepted:   totals.Accepted,
		RowsRejected:   totals.Rejected,
		RowsRepaired:   totals.Repaired,
		RowsDuplicate:  totals.Duplicates,
		VersionsOpened: totals.VersionsOpened,
		VersionsClosed: totals.VersionsClosed,
		Report:         datatypes.JSON(body),
	}
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
