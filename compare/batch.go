package compare

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/idgen"
)

// Runner runs one comparison. *Comparator implements it.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// Recorder persists batch progress. Recorder errors are logged and never
// fail a batch. *store.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, runID string) error
	Record(ctx context.Context, runID string, seq int, r Result) error
	FinishRun(ctx context.Context, runID string, completed, failed int) error
}

// BatchConfig configures a Batch.
type BatchConfig struct {
	// Pacing is the pause between consecutive comparisons.
	Pacing   time.Duration
	Logger   *slog.Logger
	Recorder Recorder
	// NewID generates run IDs. Default: idgen.New (UUIDv7).
	NewID idgen.Generator
}

// Batch runs comparisons strictly one after another.
type Batch struct {
	runner Runner
	cfg    BatchConfig
}

// NewBatch creates a Batch.
func NewBatch(runner Runner, cfg BatchConfig) *Batch {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.Default
	}
	return &Batch{runner: runner, cfg: cfg}
}

// Report is the outcome of a batch. Results are in request order, one per
// request.
type Report struct {
	RunID      string    `json:"run_id"`
	Results    []Result  `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Completed counts results that produced a measurement.
func (r *Report) Completed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Failed() {
			n++
		}
	}
	return n
}

// Failed counts failed results.
func (r *Report) Failed() int {
	return len(r.Results) - r.Completed()
}

// FailedResults returns the failed results, in order.
func (r *Report) FailedResults() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

var errCancelled = errors.New("batch cancelled")

// Run executes reqs in order. A failed comparison never stops the batch.
// If ctx ends mid-batch, the remaining requests are reported as failed so
// the report stays one-to-one with reqs.
func (b *Batch) Run(ctx context.Context, reqs []Request) *Report {
	rep := &Report{
		RunID:     b.cfg.NewID(),
		Results:   make([]Result, 0, len(reqs)),
		StartedAt: time.Now(),
	}
	log := b.cfg.Logger.With("run_id", rep.RunID)
	log.Info("compare: batch started", "requests", len(reqs))

	// Recording outlives cancellation so a cancelled batch is still stored.
	rctx := context.WithoutCancel(ctx)
	b.record(log, "begin run", func() error { return b.cfg.Recorder.BeginRun(rctx, rep.RunID) })

	for i, req := range reqs {
		if i > 0 && b.cfg.Pacing > 0 {
			t := time.NewTimer(b.cfg.Pacing)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}

		var res Result
		if ctx.Err() != nil {
			res = newResult(req.Normalize())
			res.fail(fault.Wrap(fault.KindCancelled, "batch", errCancelled.Error(), ctx.Err()))
		} else {
			res = b.runner.Run(ctx, req)
		}
		rep.Results = append(rep.Results, res)
		b.record(log, "record result", func() error { return b.cfg.Recorder.Record(rctx, rep.RunID, i, res) })

		log.Info("compare: batch progress",
			"index", i+1, "of", len(reqs), "screen", req.ScreenName, "status", res.Status)
	}

	rep.FinishedAt = time.Now()
	b.record(log, "finish run", func() error {
		return b.cfg.Recorder.FinishRun(rctx, rep.RunID, rep.Completed(), rep.Failed())
	})
	log.Info("compare: batch finished",
		"completed", rep.Completed(), "failed", rep.Failed(),
		"elapsed", rep.FinishedAt.Sub(rep.StartedAt))
	return rep
}

func (b *Batch) record(log *slog.Logger, op string, fn func() error) {
	if b.cfg.Recorder == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn("compare: recorder "+op, "error", err)
	}
}
