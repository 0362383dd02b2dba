package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/gsarma/examrunner/internal/catalog"
	"github.com/gsarma/examrunner/internal/dispatch"
	"github.com/gsarma/examrunner/internal/store"
	"github.com/gsarma/examrunner/sdk"
)

var (
	success = color.New(color.FgGreen, color.Bold)
	warning = color.New(color.FgYellow, color.Bold)
	failure = color.New(color.FgRed, color.Bold)
	faint   = color.New(color.Faint)
)

func printMigrations(w io.Writer, st []store.MigrationStatus) {
	for _, s := range st {
		state := warning.Sprint("pending")
		if s.Applied {
			state = success.Sprint("applied")
		}
		fmt.Fprintf(w, "%05d  %-8s %s\n", s.Version, state, s.Path)
	}
}

func seed(ctx context.Context, q store.Querier, path string, w io.Writer) error {
	c, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	s, err := c.Seed(ctx, q)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %d exams, %d coding questions, %d quiz questions\n",
		success.Sprint("seeded"), s.Exams, s.CodingQuestions, s.QuizQuestions)
	return nil
}

func listStuck(ctx context.Context, q store.Querier, olderThan time.Duration, w io.Writer) ([]store.Job, error) {
	jobs, err := q.ListStuckJobs(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, success.Sprint("no stuck jobs"))
		return nil, nil
	}
	for _, j := range jobs {
		var age time.Duration
		if j.ClaimedAt != nil {
			age = time.Since(*j.ClaimedAt).Truncate(time.Second)
		}
		fmt.Fprintf(w, "%s  %s  owner=%s question=%s %s\n",
			j.ID, warning.Sprint("running"), j.OwnerID, j.QuestionID, faint.Sprintf("(claimed %s ago)", age))
	}
	return jobs, nil
}

// failStuck moves every stuck job to failed through the same conditional
// update a worker report uses, so a late report and the operator cannot both
// win.
func failStuck(ctx context.Context, d *dispatch.Service, q store.Querier, olderThan time.Duration, w io.Writer) (int, error) {
	jobs, err := listStuck(ctx, q, olderThan, io.Discard)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, j := range jobs {
		if _, err := d.FailAbandoned(ctx, j.ID); err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", warning.Sprint("skipped"), j.ID, err)
			continue
		}
		failed++
		fmt.Fprintf(w, "%s %s\n", failure.Sprint("failed"), j.ID)
	}
	fmt.Fprintf(w, "%d of %d stuck jobs marked failed\n", failed, len(jobs))
	return failed, nil
}

func runAndWait(ctx context.Context, c *sdk.Client, req sdk.SubmitRequest, interval time.Duration, w io.Writer) (*sdk.Result, error) {
	run, err := c.Exam.RunCode(ctx, req)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "queued %s (%d attempts left)\n", run.JobID, run.RemainingAttempts)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		res, err := c.Exam.Result(ctx, run.JobID)
		if err != nil {
			return nil, err
		}
		if sdk.IsTerminal(res.Status) {
			status := success.Sprint(res.Status)
			if res.Status == sdk.StatusFailed {
				status = failure.Sprint(res.Status)
			}
			fmt.Fprintf(w, "%s score=%g\n", status, res.Score)
			if res.Output != "" {
				fmt.Fprintln(w, res.Output)
			}
			if len(res.Image) > 0 {
				fmt.Fprintln(w, faint.Sprintf("(%d byte image attached)", len(res.Image)))
			}
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", run.JobID, ctx.Err())
		case <-t.C:
		}
	}
}
