// Package engine claims unprocessed receiving documents and runs a routine's
// transform over each one inside its own savepoint.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
	"github.com/seattleflu/id3c-sub000/internal/platform/metrics"
)

// Options tune a single run.
type Options struct {
	// Limit caps the documents claimed; zero claims all.
	Limit int
	// SkipLocked lets concurrent runs over the same table partition the
	// backlog instead of waiting on each other's row locks.
	SkipLocked bool
}

// Result summarizes a run, including one that aborted partway.
type Result struct {
	Routine      string
	Claimed      int
	ProcessedIDs []int64
	SkippedIDs   []int64
}

func (r *Result) Processed() int { return len(r.ProcessedIDs) }
func (r *Result) Skipped() int   { return len(r.SkippedIDs) }

type Engine struct {
	log     receiving.Repository
	logger  zerolog.Logger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

func New(log receiving.Repository, logger zerolog.Logger) *Engine {
	return &Engine{
		log:    log,
		logger: logger.With().Str("component", "engine").Logger(),
		now:    time.Now,
	}
}

// SetMetrics attaches optional Prometheus collectors.
func (e *Engine) SetMetrics(m *metrics.EngineMetrics) {
	e.metrics = m
}

// WithRow runs fn inside the savepoint name. The savepoint is released when
// fn returns an Outcome and rolled back when it returns an error.
func WithRow(ctx context.Context, sp db.Savepointer, name string, fn func(ctx context.Context) (Outcome, error)) (Outcome, error) {
	var outcome Outcome
	err := db.WithSavepoint(ctx, sp, name, func(ctx context.Context) error {
		var err error
		outcome, err = fn(ctx)
		if err == nil && outcome.IsZero() {
			err = errors.New("transform returned neither Processed nor Skipped")
		}
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// Run claims r's unprocessed documents in tx and transforms them in id
// order. The first failing document stops the run with a *RowError; the
// caller decides whether tx is committed.
func (e *Engine) Run(ctx context.Context, tx db.Tx, r *Routine, opts Options) (res *Result, err error) {
	ctx = db.ContextWithTx(ctx, tx)
	tag := r.Tag()
	logger := e.logger.With().Str("routine", r.Name).Str("tag", tag.String()).Logger()
	res = &Result{Routine: r.Name}

	defer func() { e.metrics.RecordRun(r.Name, err) }()

	docs, err := e.log.Claim(ctx, r.Table, tag, receiving.ClaimOptions{Limit: opts.Limit, SkipLocked: opts.SkipLocked})
	if err != nil {
		return res, err
	}
	res.Claimed = len(docs)
	e.metrics.RecordClaim(r.Name, len(docs))
	logger.Info().Int("claimed", len(docs)).Msgf("Claimed %d %s records", len(docs), r.Table)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, &RowError{Routine: r.Name, Table: r.Table, RowID: doc.ID, Err: err}
		}

		rowLogger := logger.With().Int64("id", doc.ID).Logger()
		rowLogger.Debug().Msgf("Processing %s record %d", r.Table, doc.ID)
		started := time.Now()

		outcome, err := WithRow(ctx, tx, fmt.Sprintf("%s %d", r.Table, doc.ID), func(ctx context.Context) (Outcome, error) {
			outcome, err := r.Transform(ctx, doc)
			if err != nil || outcome.IsZero() {
				return outcome, err
			}
			entry := receiving.LogEntry{
				Tag:       tag,
				Status:    outcome.Status(),
				Timestamp: e.now(),
				Extra:     outcome.Extra(),
			}
			return outcome, e.log.AppendLog(ctx, r.Table, doc.ID, entry)
		})
		if err != nil {
			e.metrics.RecordRow(r.Name, "failed", time.Since(started))
			rowLogger.Error().Err(err).Msgf("%s record %d failed", r.Table, doc.ID)
			return res, &RowError{Routine: r.Name, Table: r.Table, RowID: doc.ID, Err: err}
		}

		e.metrics.RecordRow(r.Name, string(outcome.Status()), time.Since(started))
		switch outcome.Status() {
		case receiving.StatusProcessed:
			res.ProcessedIDs = append(res.ProcessedIDs, doc.ID)
			rowLogger.Info().Fields(outcome.Extra()).Msgf("Finished processing %s record %d", r.Table, doc.ID)
		case receiving.StatusSkipped:
			res.SkippedIDs = append(res.SkippedIDs, doc.ID)
			rowLogger.Info().Fields(outcome.Extra()).Msgf("Skipped %s record %d", r.Table, doc.ID)
		}
	}

	logger.Info().
		Int("processed", res.Processed()).
		Int("skipped", res.Skipped()).
		Msg("Routine finished")
	return res, nil
}
