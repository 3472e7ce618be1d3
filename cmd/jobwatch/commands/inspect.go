// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/ui"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status <tool>",
		Short:   "Show the readiness report of a tool",
		GroupID: "jobs",
		Example: `  jobwatch status mobile
  jobwatch status ram-analyze -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			backend, err := backendFor(cfg, args[0])
			if err != nil {
				return err
			}

			f := formatterFor(cmd, cfg)
			status, err := backend.Status(cmd.Context())
			if err != nil {
				_ = f.PrintError(err)
				return reported(err)
			}

			if f.Mode() == ui.ModeJSON || f.Mode() == ui.ModeYAML {
				return f.PrintData(status)
			}
			keys := make([]string, 0, len(status))
			for k := range status {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, displayValue(status[k])})
			}
			return f.PrintTable([]string{"field", "value"}, rows)
		},
	}
}

func newFilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "files <tool>",
		Short:   "List the files a tool keeps on the console",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			backend, err := backendFor(cfg, args[0])
			if err != nil {
				return err
			}

			f := formatterFor(cmd, cfg)
			files, err := backend.Files(cmd.Context())
			if err != nil {
				_ = f.PrintError(err)
				return reported(err)
			}

			if f.Mode() == ui.ModeJSON || f.Mode() == ui.ModeYAML {
				return f.PrintData(map[string]any{"files": files, "count": len(files)})
			}
			if len(files) == 0 {
				return f.PrintSummary("No files found")
			}
			rows := make([][]string, 0, len(files))
			for _, file := range files {
				rows = append(rows, []string{file.Name, strconv.FormatInt(file.Size, 10), file.Type})
			}
			if err := f.PrintTable([]string{"name", "size", "type"}, rows); err != nil {
				return err
			}
			return f.PrintSummary(fmt.Sprintf("Found %d file(s)", len(files)))
		},
	}
}

func newDownloadCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:     "download <tool> <name>",
		Short:   "Download an artifact or file of a tool",
		GroupID: "jobs",
		Example: `  jobwatch download mobile report_R58M.pdf
  jobwatch download ram-analyze dump.raw --dir /evidence`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			backend, err := backendFor(cfg, args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Output.Dir
			}

			f := formatterFor(cmd, cfg)
			path, err := backend.Download(cmd.Context(), args[1], dir)
			if err != nil {
				_ = f.PrintError(err)
				return reported(err)
			}
			if f.Mode() == ui.ModeJSON || f.Mode() == ui.ModeYAML {
				return f.PrintData(map[string]string{"name": args[1], "path": path})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Target directory (default: output.dir)")
	return cmd
}

// displayValue renders scalars as text and anything nested as compact JSON.
func displayValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	case nil:
		return "-"
	}
	return cast.ToString(v)
}
