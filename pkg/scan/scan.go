// Package scan drives the resumable aggregation cycle: pull pages from the
// source, normalize, tally, and checkpoint into the sender database under a
// hard wall-clock budget.
//
// A cycle is an idempotent, resumable unit of work. The caller (a scheduler,
// the CLI loop) re-invokes RunCycle until it reports done; each invocation
// picks up at the committed cursor and commits every checkpoint atomically
// with the cursor that covers it, so killing the process at any point costs
// at most the uncommitted tail of the current cycle.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nwalden/mailscan/internal/logctx"
	"github.com/nwalden/mailscan/pkg/humanfmt"
	"github.com/nwalden/mailscan/pkg/logging"
	"github.com/nwalden/mailscan/pkg/mailparse"
	"github.com/nwalden/mailscan/pkg/metrics"
	"github.com/nwalden/mailscan/pkg/senderdb"
	"github.com/nwalden/mailscan/pkg/source"
	"github.com/nwalden/mailscan/pkg/tally"
)

// Config holds the fixed tunables of the scan engine.
type Config struct {
	// Query is the source filter passed to every page fetch.
	Query string
	// Owner scopes the resumption state. One logical scan per owner.
	Owner string
	// PageSize is the number of messages fetched per page.
	PageSize int
	// RecordThreshold triggers a checkpoint after this many records since
	// the last one.
	RecordThreshold int
	// CheckpointInterval triggers a checkpoint after this much time since
	// the last one, even when the record threshold has not been reached.
	CheckpointInterval time.Duration
	// Budget is the hard wall-clock limit for one cycle.
	Budget time.Duration
	// FetchTimeout bounds a single page fetch so that one stuck call
	// cannot burn the whole budget. Zero disables the per-fetch bound.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		Query:              "",
		Owner:              "default",
		PageSize:           40,
		RecordThreshold:    200,
		CheckpointInterval: 45 * time.Second,
		Budget:             4 * time.Minute,
		FetchTimeout:       30 * time.Second,
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("Owner is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PageSize must be positive, got %d", c.PageSize)
	}
	if c.RecordThreshold <= 0 {
		return fmt.Errorf("RecordThreshold must be positive, got %d", c.RecordThreshold)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("CheckpointInterval must be positive")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("Budget must be positive")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("FetchTimeout must be non-negative")
	}
	return nil
}

// CycleResult summarizes one RunCycle invocation.
type CycleResult struct {
	// Done is true when the source was exhausted and the resumption state
	// cleared; the next invocation starts a fresh scan.
	Done bool
	// RecordsProcessed is the number of records this cycle pulled through
	// normalization (including skipped ones).
	RecordsProcessed int64
	// TotalProcessed is the running total across the whole scan.
	TotalProcessed int64
	// Inserted and Updated count store rows across this cycle's merges.
	Inserted int
	Updated  int
	// Checkpoints is the number of merges committed, final merge included.
	Checkpoints int
	// Skipped counts records dropped by the normalizer.
	Skipped int64
	// BudgetExhausted is true when the cycle stopped on the wall clock.
	BudgetExhausted bool
	Elapsed         time.Duration
}

// ErrCycleRunning is returned when RunCycle is entered while another cycle
// for the same Scanner is still in flight.
var ErrCycleRunning = errors.New("scan cycle already running")

// Scanner owns one logical scan: a source, a sender database, and the
// tunables. RunCycle is guarded so concurrent schedulers cannot interleave
// two cycles over the same state.
type Scanner struct {
	src    source.Source
	db     *senderdb.DB
	cfg    Config
	parser *mailparse.Parser
	log    zerolog.Logger

	running atomic.Bool
}

// New creates a scanner.
func New(src source.Source, db *senderdb.DB, cfg Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Scanner{
		src:    src,
		db:     db,
		cfg:    cfg,
		parser: mailparse.NewParser(),
		log:    logging.WithPhase("scan"),
	}, nil
}

// RunCycle executes one budget-bounded cycle: resume at the committed
// cursor, pull pages, tally senders, checkpoint on the record/time
// triggers, and finish with a mandatory merge of whatever the tally still
// holds. Source and commit failures abort the cycle without advancing the
// cursor past the last committed checkpoint; the next invocation retries
// from there.
func (s *Scanner) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleRunning
	}
	defer s.running.Store(false)

	runID := uuid.NewString()
	log := s.log.With().Str("run_id", runID).Str("owner", s.cfg.Owner).Logger()
	ctx = logctx.WithLogger(ctx, log)

	start := time.Now()

	st, err := s.db.LoadState(ctx, s.cfg.Owner)
	if err != nil {
		metrics.Cycles.WithLabelValues(metrics.OutcomeError).Inc()
		return CycleResult{}, err
	}
	if !st.Initialized {
		// Fresh state. If the store already holds data this is a resume
		// over prior results, never a reason to wipe anything; only the
		// explicit reset operation may do that.
		n, err := s.db.SenderCount(ctx)
		if err != nil {
			metrics.Cycles.WithLabelValues(metrics.OutcomeError).Inc()
			return CycleResult{}, err
		}
		if n > 0 {
			log.Info().Int64("existing_senders", n).Msg("starting scan over existing store")
		} else {
			log.Info().Msg("starting fresh scan")
		}
	} else {
		log.Info().Int64("cursor", st.Cursor).Int64("total_processed", st.TotalProcessed).Msg("resuming scan")
	}

	cycle := &cycleState{
		tally:    tally.New(),
		cursor:   st.Cursor,
		total:    st.TotalProcessed,
		lastCkpt: start,
	}

	if err := s.pumpPages(ctx, cycle, start); err != nil {
		metrics.Cycles.WithLabelValues(metrics.OutcomeError).Inc()
		return CycleResult{}, err
	}

	// Mandatory final merge: without it a partial page's work would be
	// lost on every budget exit.
	if cycle.tally.Len() > 0 {
		if err := s.checkpoint(ctx, cycle); err != nil {
			metrics.Cycles.WithLabelValues(metrics.OutcomeError).Inc()
			return CycleResult{}, err
		}
	}

	res := CycleResult{
		RecordsProcessed: cycle.cycleRecords,
		TotalProcessed:   cycle.total,
		Inserted:         cycle.inserted,
		Updated:          cycle.updated,
		Checkpoints:      cycle.checkpoints,
		Skipped:          cycle.skipped,
		BudgetExhausted:  cycle.budgetHit,
		Elapsed:          time.Since(start),
	}

	// Probe once more at the final cursor; an empty page means the scan
	// is complete and the state can go away.
	probe, err := s.fetchPage(ctx, cycle.cursor, 1)
	if err != nil {
		metrics.FetchErrors.Inc()
		metrics.Cycles.WithLabelValues(metrics.OutcomeError).Inc()
		return res, fmt.Errorf("probe source at %d: %w", cycle.cursor, err)
	}
	if len(probe) == 0 {
		if err := s.db.ClearState(ctx, s.cfg.Owner); err != nil {
			metrics.Cycles.WithLabelValues(metrics.OutcomeError).Inc()
			return res, err
		}
		res.Done = true
	}

	s.logSummary(log, res)
	if res.Done {
		metrics.Cycles.WithLabelValues(metrics.OutcomeDone).Inc()
	} else {
		metrics.Cycles.WithLabelValues(metrics.OutcomeBudget).Inc()
	}
	return res, nil
}

// cycleState is the in-memory progress of one cycle. cursor and total are
// provisional until the next checkpoint commits them.
type cycleState struct {
	tally *tally.Tally

	cursor int64
	total  int64

	cycleRecords int64
	skipped      int64

	sinceCkpt   int
	lastCkpt    time.Time
	checkpoints int
	inserted    int
	updated     int

	budgetHit bool
}

// pumpPages runs the fetch/normalize/absorb loop until the source is
// exhausted or the budget is hit.
func (s *Scanner) pumpPages(ctx context.Context, cycle *cycleState, start time.Time) error {
	for {
		if time.Since(start) >= s.cfg.Budget {
			cycle.budgetHit = true
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.fetchPage(ctx, cycle.cursor, s.cfg.PageSize)
		if err != nil {
			metrics.FetchErrors.Inc()
			return fmt.Errorf("fetch page at %d: %w", cycle.cursor, err)
		}
		if len(page) == 0 {
			return nil
		}

		// The budget is re-checked inside the record loop; a page can be
		// large relative to the budget's granularity. The cursor advances
		// by however many records were actually absorbed, so a mid-page
		// exit stays consistent.
		processed := 0
		for _, raw := range page {
			s.absorb(cycle, raw)
			processed++
			if time.Since(start) >= s.cfg.Budget {
				cycle.budgetHit = true
				break
			}
		}

		cycle.cursor += int64(processed)
		cycle.total += int64(processed)
		cycle.cycleRecords += int64(processed)
		cycle.sinceCkpt += processed
		metrics.RecordsProcessed.Add(float64(processed))

		triggered := cycle.sinceCkpt >= s.cfg.RecordThreshold ||
			time.Since(cycle.lastCkpt) >= s.cfg.CheckpointInterval
		if triggered && cycle.tally.Len() > 0 {
			if err := s.checkpoint(ctx, cycle); err != nil {
				return err
			}
		}

		if cycle.budgetHit {
			return nil
		}
	}
}

// absorb normalizes one record into the tally; unparsable records are
// skipped, they still advance the cursor.
func (s *Scanner) absorb(cycle *cycleState, raw source.RawMessage) {
	rec, ok := s.parser.Normalize(raw)
	if !ok {
		cycle.skipped++
		metrics.RecordsSkipped.Inc()
		return
	}
	cycle.tally.Absorb(rec)
}

// checkpoint merges the tally and the provisional cursor in one commit,
// then resets the cycle's trigger bookkeeping.
func (s *Scanner) checkpoint(ctx context.Context, cycle *cycleState) error {
	res, err := s.db.Merge(ctx, cycle.tally.Buckets(), senderdb.ScanState{
		Owner:          s.cfg.Owner,
		Cursor:         cycle.cursor,
		TotalProcessed: cycle.total,
	})
	if err != nil {
		return fmt.Errorf("checkpoint at cursor %d: %w", cycle.cursor, err)
	}

	cycle.tally.Reset()
	cycle.sinceCkpt = 0
	cycle.lastCkpt = time.Now()
	cycle.checkpoints++
	cycle.inserted += res.Inserted
	cycle.updated += res.Updated

	metrics.Checkpoints.Inc()
	metrics.SendersInserted.Add(float64(res.Inserted))
	metrics.SendersUpdated.Add(float64(res.Updated))
	metrics.CursorPosition.Set(float64(cycle.cursor))
	return nil
}

// fetchPage wraps one Search call with the per-fetch timeout.
func (s *Scanner) fetchPage(ctx context.Context, offset int64, limit int) ([]source.RawMessage, error) {
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}
	return s.src.Search(ctx, s.cfg.Query, int(offset), limit)
}

func (s *Scanner) logSummary(log zerolog.Logger, res CycleResult) {
	event := log.Info().
		Bool("done", res.Done).
		Bool("budget_exhausted", res.BudgetExhausted).
		Int64("records", res.RecordsProcessed).
		Int64("total_processed", res.TotalProcessed).
		Int64("skipped", res.Skipped).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("checkpoints", res.Checkpoints).
		Dur("elapsed", res.Elapsed)
	if logging.IsPrettyMode() {
		event = event.
			Str("records_h", humanfmt.Count(res.RecordsProcessed)).
			Str("elapsed_h", humanfmt.Duration(res.Elapsed)).
			Str("rate_h", humanfmt.Rate(res.RecordsProcessed, res.Elapsed))
	}
	event.Msg("cycle complete")
}
