// Package worker is the execution agent: it polls the dispatch endpoint,
// runs claimed jobs through a code.Provider and reports the outcome.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/gsarma/examrunner/internal/code"
	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/metrics"
	"github.com/gsarma/examrunner/sdk"
)

// Dispatcher is the server side of the claim/report protocol. *sdk.AgentService
// implements it.
type Dispatcher interface {
	ClaimJob(ctx context.Context, opts sdk.ClaimOptions) (*sdk.Job, error)
	ReportJob(ctx context.Context, r sdk.JobReport) error
}

type Config struct {
	Mode              job.Mode
	FilterUserID      string
	MaxConcurrentJobs int
	PollInterval      time.Duration
	MaxBackoff        time.Duration
	ReportAttempts    int
	ReportDelay       time.Duration
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = job.ModeServer
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = 15 * c.PollInterval
	}
	if c.ReportAttempts <= 0 {
		c.ReportAttempts = 3
	}
	if c.ReportDelay <= 0 {
		c.ReportDelay = 2 * time.Second
	}
}

const (
	backendErrorOutput = "Execution backend error: %v"
	panicOutput        = "Agent error while executing the job."
)

// Worker keeps up to MaxConcurrentJobs executions in flight. The poll loop
// only waits for a free slot, never for a running job.
type Worker struct {
	dispatcher Dispatcher
	provider   code.Provider
	cfg        Config
	metrics    *metrics.Agent
	log        *zap.Logger

	slots    *semaphore.Weighted
	inflight *xsync.MapOf[string, time.Time]
	wg       sync.WaitGroup
}

func New(d Dispatcher, p code.Provider, cfg Config, m *metrics.Agent, log *zap.Logger) *Worker {
	cfg.setDefaults()
	return &Worker{
		dispatcher: d,
		provider:   p,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		inflight:   xsync.NewMapOf[string, time.Time](),
	}
}

// InFlight returns the number of jobs currently being executed or reported.
func (w *Worker) InFlight() int {
	return w.inflight.Size()
}

// Start polls until ctx is cancelled, then waits for in-flight jobs to be
// executed and reported before returning.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("agent started",
		zap.String("mode", string(w.cfg.Mode)),
		zap.Int("max_concurrent_jobs", w.cfg.MaxConcurrentJobs),
	)
	var failures int
	for {
		if err := w.slots.Acquire(ctx, 1); err != nil {
			break
		}
		// The server may move a job to running before we read the reply, so a
		// claim in flight is not abandoned on shutdown.
		j, err := w.dispatcher.ClaimJob(context.WithoutCancel(ctx), sdk.ClaimOptions{
			Mode:         string(w.cfg.Mode),
			FilterUserID: w.cfg.FilterUserID,
		})
		if err != nil || j == nil {
			w.slots.Release(1)
			wait := w.cfg.PollInterval
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				failures++
				wait = w.backoff(failures)
				w.metrics.PollError()
				w.log.Warn("poll failed", zap.Error(err), zap.Duration("retry_in", wait))
			} else {
				failures = 0
			}
			if !sleep(ctx, wait) {
				break
			}
			continue
		}
		failures = 0

		if _, loaded := w.inflight.LoadOrStore(j.ID, time.Now()); loaded {
			// A job id we are already running; never execute it twice.
			w.slots.Release(1)
			w.log.Warn("claimed job already in flight", zap.String("job_id", j.ID))
			continue
		}
		w.wg.Add(1)
		go w.process(ctx, j)
	}

	if n := w.InFlight(); n > 0 {
		w.log.Info("waiting for in-flight jobs", zap.Int("count", n))
	}
	w.wg.Wait()
	w.log.Info("agent stopped")
}

// backoff doubles the poll interval per consecutive failure up to MaxBackoff.
func (w *Worker) backoff(failures int) time.Duration {
	d := w.cfg.PollInterval
	for i := 1; i < failures && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, w.cfg.MaxBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) process(ctx context.Context, j *sdk.Job) {
	// Shutdown stops polling; jobs already claimed still run and report.
	ctx = context.WithoutCancel(ctx)
	log := w.log.With(zap.String("job_id", j.ID), zap.String("question_id", j.QuestionID))

	w.metrics.JobStarted()
	defer func() {
		w.inflight.Delete(j.ID)
		w.slots.Release(1)
		w.metrics.JobDone()
		w.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing job", zap.Any("panic", r), zap.Stack("stack"))
			w.report(ctx, log, sdk.JobReport{JobID: j.ID, Output: panicOutput, Outcome: string(job.StatusFailed)})
		}
	}()

	log.Info("executing job")
	start := time.Now()
	out, err := w.provider.Execute(ctx, code.Task{JobID: j.ID, Code: j.Code, Input: j.Input})
	if err != nil {
		log.Error("execution backend error", zap.Error(err))
		out = &code.Outcome{Status: job.StatusFailed, Output: fmt.Sprintf(backendErrorOutput, err)}
	}
	elapsed := time.Since(start)
	w.metrics.Executed(string(out.Status), elapsed)
	log.Info("job executed", zap.String("status", string(out.Status)), zap.Duration("elapsed", elapsed))

	w.report(ctx, log, sdk.JobReport{
		JobID:   j.ID,
		Output:  out.Output,
		Image:   out.Image,
		Outcome: string(out.Status),
	})
}

// report delivers r with ReportAttempts tries spaced by ReportDelay. A 404 is
// final: the job is no longer running so retrying cannot succeed.
func (w *Worker) report(ctx context.Context, log *zap.Logger, r sdk.JobReport) {
	attempt := 0
	b := retry.WithMaxRetries(uint64(w.cfg.ReportAttempts-1), retry.NewConstant(w.cfg.ReportDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			w.metrics.ReportRetried()
		}
		err := w.dispatcher.ReportJob(ctx, r)
		if err == nil || sdk.IsNotFound(err) {
			return err
		}
		log.Warn("report failed", zap.Int("attempt", attempt), zap.Error(err))
		return retry.RetryableError(err)
	})
	switch {
	case err == nil:
		log.Info("job reported", zap.String("outcome", r.Outcome))
	case sdk.IsNotFound(err):
		log.Warn("report rejected, job is no longer running", zap.Error(err))
	default:
		w.metrics.Stuck()
		log.Error("job stuck in running, needs operational recovery",
			zap.Int("attempts", attempt), zap.Error(err))
	}
}
