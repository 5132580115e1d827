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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/outsync/services/outsync/output"
)

func newDeleteCmd(a *app) *cobra.Command {
	var (
		outputName string
		project    string
	)
	cmd := &cobra.Command{
		Use:   "delete FILE...",
		Short: "Delete generated files and their trace files",
		Long: `Deletes generated files of one output configuration. The trace sibling is
deleted too; source maps are left in place. Deleted bytes are kept as
history in the state directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			passID := uuid.NewString()
			logger := ws.logger.With("pass_id", passID)
			syn, err := ws.synchronizer(project, logger)
			if err != nil {
				return err
			}
			lock, err := ws.lockPass(ctx, project, passID)
			if err != nil {
				return err
			}
			defer lock.Release()

			for _, f := range args {
				if err := syn.Delete(ctx, f, outputName); err != nil {
					return fmt.Errorf("delete %s: %w", f, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&outputName, "output", output.DefaultName, "Output configuration name")
	cmd.Flags().StringVar(&project, "project", "", "Project path output directories are relative to")
	return cmd
}
