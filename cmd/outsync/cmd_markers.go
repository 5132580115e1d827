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
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/outsync/services/outsync/markers"
)

func newMarkersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "markers [SOURCE...]",
		Short: "List source markers installed by generation passes",
		Long: `Prints the marker sets of the given source files (store paths relative to
the root) as YAML. Without arguments all marker sets are printed.`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			var list []markers.Marker
			if len(args) == 0 {
				list, err = ws.markers.All(ctx)
				if err != nil {
					return err
				}
			}
			for _, source := range args {
				found, err := ws.markers.Lookup(ctx, source)
				if err != nil {
					return err
				}
				list = append(list, found...)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(list); err != nil {
				return err
			}
			return enc.Close()
		}),
	}
}
