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
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:   "history FILE",
		Short: "List or print retained copies of a deleted generated file",
		Long: `Lists the versions kept when FILE (a store path relative to the root) was
deleted, oldest first. With --show N the bytes of version N are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			versions, err := ws.fs.History(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if show > 0 {
				if show > len(versions) {
					return fmt.Errorf("%s: no version %d (%d retained)", args[0], show, len(versions))
				}
				_, err := out.Write(versions[show-1].Data)
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tDELETED\tBYTES")
			for i, v := range versions {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, v.DeletedAt.Format(time.RFC3339), len(v.Data))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&show, "show", 0, "Print the bytes of this version (1 = oldest)")
	return cmd
}
