// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/outsync/services/outsync/plan"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync PLAN...",
		Short: "Run generation plans as passes against the output root",
		Long: `Runs every plan as one generation pass. Plans for different projects run
concurrently; passes on the same project wait for each other.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			results, err := ws.runPlanFiles(cmd.Context(), args)
			printResults(cmd.OutOrStdout(), args, results)
			return err
		}),
	}
}

// runPlanFiles loads every plan file, then runs the plans concurrently.
// Results are in argument order; the zero Result marks a plan that did not
// run.
func (w *workspace) runPlanFiles(ctx context.Context, files []string) ([]plan.Result, error) {
	plans := make([]*plan.Plan, len(files))
	for i, f := range files {
		p, err := plan.LoadFile(f)
		if err != nil {
			return make([]plan.Result, len(files)), err
		}
		plans[i] = p
	}

	results := make([]plan.Result, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range plans {
		g.Go(func() error {
			res, err := w.runPlan(gctx, p)
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", files[i], err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

func printResults(out io.Writer, files []string, results []plan.Result) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tPASS\tSYNCHRONIZED\tDELETED\tDURATION")
	for i, res := range results {
		if res.PassID == "" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			files[i], res.PassID, res.Synchronized, res.Deleted, res.Duration.Round(time.Millisecond))
	}
	tw.Flush()
}
