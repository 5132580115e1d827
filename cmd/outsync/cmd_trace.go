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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/outsync/services/outsync/traceio"
)

func newTraceCmd(a *app) *cobra.Command {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect trace files",
	}

	var asJSON bool
	dumpCmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Decode a ._trace file and print its region tree",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r, err := traceio.Read(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(r); err != nil {
				return err
			}
			return enc.Close()
		}),
	}
	dumpCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of YAML")

	traceCmd.AddCommand(dumpCmd)
	return traceCmd
}
