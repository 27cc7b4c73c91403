package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
	"github.com/metro-exp/hptdc_go/pkg/framesink"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the header and tables of tdc files or the content of frame archives",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ignore-tables", Usage: "Rebuild the scan tables from markers"},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("at least one file required", exitConfig)
	}
	opts := hptdc.DefaultOptions()
	opts.IgnoreTables = c.Bool("ignore-tables")

	failed := false
	for _, path := range expandFiles(c.Args().Slice()) {
		var err error
		if strings.HasSuffix(path, ".mpk") {
			err = inspectArchive(c.App.Writer, path)
		} else {
			err = inspectTdc(c.App.Writer, path, opts)
		}
		if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		return cli.Exit("", exitFileFailed)
	}
	return nil
}

func inspectTdc(w io.Writer, path string, opts hptdc.Options) error {
	info, tables, warnings, err := hptdc.Inspect(path, opts)
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  generation: %s, mode: %s, version: %d\n", info.Generation, info.Mode, info.Version)
	fmt.Fprintf(w, "  scan table: offset %d, %d scans\n", info.ScanTableOffset, info.ScanCount)
	fmt.Fprintf(w, "  parameters: offset %d, %d bytes\n", info.ParamTableOffset, info.ParamTableSize)
	fmt.Fprintf(w, "  recovered: %t\n", tables.Recovered)
	for scanIdx, scan := range tables.Scans {
		fmt.Fprintf(w, "  scan %d: %d steps\n", scanIdx, len(scan))
		for _, step := range scan {
			fmt.Fprintf(w, "    %-12s offset %12d size %12d\n", step.Value, step.DataOffset, step.DataSize)
		}
	}
	return nil
}

func inspectArchive(w io.Writer, path string) error {
	sink, err := framesink.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", path)
	for _, groupPath := range sink.Groups() {
		group := sink.Group(groupPath)
		fmt.Fprintf(w, "  %s\n", groupPath)
		keys := make([]string, 0, len(group.Attrs))
		for key := range group.Attrs {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "    @%s = %s\n", key, group.Attrs[key])
		}
		for _, name := range group.DatasetNames() {
			dataset := group.Datasets[name]
			fmt.Fprintf(w, "    %s: %s %v\n", name, dataset.Spec.Kind, dataset.Spec.Shape)
		}
	}
	return nil
}
