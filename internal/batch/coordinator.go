// Package batch fans the per-sheet pipeline out over a bounded worker pool
// and collects the decoded results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	sheetimage "omr-grader/internal/image"
	"omr-grader/internal/sheet"

	"github.com/google/uuid"
)

var (
	// ErrNoResults is returned when every image in a batch failed.
	ErrNoResults = errors.New("no sheet in the batch could be processed")

	// ErrTimeout marks an image abandoned after the per-image timeout.
	ErrTimeout = errors.New("sheet processing timed out")
)

// Pipeline processes one sheet image. sheet.Processor implements it.
type Pipeline interface {
	Process(ctx context.Context, src sheetimage.Source) (sheet.Result, error)
}

// Options controls a batch run.
type Options struct {
	ID       uuid.UUID             // Batch id; zero means a new random id
	Workers  int                   // Pool size; zero means DefaultWorkers()
	Timeout  time.Duration         // Per image; zero disables
	Progress func(done, total int) // Called after each finished image
}

// DefaultWorkers returns min(GOMAXPROCS, 4).
func DefaultWorkers() int {
	return min(runtime.GOMAXPROCS(0), 4)
}

// Failure records why one image was dropped from a batch.
type Failure struct {
	SourceID string `json:"source_id"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// Outcome is the result of a batch run. Results keep input order.
type Outcome struct {
	ID       uuid.UUID      `json:"id"`
	Results  []sheet.Result `json:"results"`
	Failures []Failure      `json:"failures"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
}

// Total returns the number of images the batch was given.
func (o *Outcome) Total() int {
	return len(o.Results) + len(o.Failures)
}

// Coordinator runs a pipeline over many images.
type Coordinator struct {
	pipeline Pipeline
	opts     Options
}

// NewCoordinator creates a coordinator.
func NewCoordinator(p Pipeline, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	return &Coordinator{pipeline: p, opts: opts}
}

// Run processes every source. A failing image is logged, recorded in the
// outcome's failures and left out of the results; the batch carries on. If
// no image succeeds the outcome is returned together with ErrNoResults.
func (c *Coordinator) Run(ctx context.Context, sources []sheetimage.Source) (*Outcome, error) {
	out := &Outcome{ID: c.opts.ID, Started: time.Now()}
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}

	slog.Info("starting batch", "batch_id", out.ID, "images", len(sources), "workers", c.opts.Workers)

	results := make([]*sheet.Result, len(sources))
	failures := make([]error, len(sources))

	done := 0
	for task := range RunInPool(ctx, c.processOne, sources, c.opts.Workers) {
		src := sources[task.Index]
		if task.Error != nil {
			slog.Warn("sheet failed", "batch_id", out.ID, "source", src.ID, "error", task.Error)
			failures[task.Index] = task.Error
		} else {
			r := task.Result
			results[task.Index] = &r
		}

		done++
		if c.opts.Progress != nil {
			c.opts.Progress(done, len(sources))
		}
	}

	for i := range sources {
		switch {
		case results[i] != nil:
			out.Results = append(out.Results, *results[i])
		case failures[i] != nil:
			out.Failures = append(out.Failures, Failure{
				SourceID: sources[i].ID,
				Err:      failures[i],
				Message:  failures[i].Error(),
			})
		}
	}
	out.Finished = time.Now()

	slog.Info("batch complete", "batch_id", out.ID, "succeeded", len(out.Results),
		"failed", len(out.Failures), "duration", out.Finished.Sub(out.Started))

	if len(out.Results) == 0 {
		return out, fmt.Errorf("%w: %d of %d images failed", ErrNoResults, len(out.Failures), len(sources))
	}
	return out, nil
}

// processOne runs the pipeline for one source, abandoning it once the
// per-image timeout expires.
func (c *Coordinator) processOne(ctx context.Context, src sheetimage.Source) (sheet.Result, error) {
	if c.opts.Timeout <= 0 {
		return c.pipeline.Process(ctx, src)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	done := make(chan Completed[sheet.Result], 1)
	go func() {
		res, err := c.pipeline.Process(ctx, src)
		done <- Completed[sheet.Result]{Result: res, Error: err}
	}()

	var r Completed[sheet.Result]
	select {
	case r = <-done:
		if r.Error == nil {
			return r.Result, nil
		}
	case <-ctx.Done():
		r.Error = ctx.Err()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return sheet.Result{}, fmt.Errorf("%w: %s after %s", ErrTimeout, src.ID, c.opts.Timeout)
	}
	return sheet.Result{}, r.Error
}
