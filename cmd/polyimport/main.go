// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Command polyimport runs a Polygon problem import standalone, without
// a host judge application behind it: it wires its own store, media
// directory, and permissive authorizer (internal/localjudge) and drives
// pkg/importjob directly.
//
// Usage:
//
//	polyimport import --polygon-id 123 --code aplusb
//	polyimport retrigger --source-id 7
//	polyimport status --source-id 7
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kraklabs/polyimport/internal/ui"
)

// GlobalFlags carries the flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Quiet      bool
	NoColor    bool
	Verbose    int
}

func main() {
	globals, args := parseGlobalFlags(os.Args[1:])
	ui.InitColors(globals.NoColor)

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "import":
		runImport(cmdArgs, globals)
	case "retrigger":
		runRetrigger(cmdArgs, globals)
	case "status":
		runStatusCmd(cmdArgs, globals)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// parseGlobalFlags parses the flags that precede the subcommand name
// (e.g. "polyimport --json import ..."), stopping at the first
// non-flag argument so the subcommand owns everything after it.
func parseGlobalFlags(args []string) (GlobalFlags, []string) {
	fs := pflag.NewFlagSet("polyimport", pflag.ExitOnError)
	fs.SetInterspersed(false)

	configPath := fs.String("config", "", "Path to polyimport.yaml (default: ./polyimport.yaml)")
	jsonOutput := fs.Bool("json", false, "Output machine-readable JSON instead of human text")
	quiet := fs.BoolP("quiet", "q", false, "Suppress progress bars and non-essential output")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	verbose := fs.CountP("verbose", "v", "Increase log verbosity (repeatable)")

	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	globals := GlobalFlags{
		ConfigPath: *configPath,
		JSON:       *jsonOutput,
		Quiet:      *quiet || *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
	}
	return globals, fs.Args()
}

func printUsage() {
	fmt.Fprint(os.Stderr, `polyimport - Polygon problem importer (standalone)

Usage:
  polyimport <command> [options]

Commands:
  import      Import a Polygon problem into a new or existing ProblemSource
  retrigger   Re-run the import for an existing ProblemSource
  status      Show a ProblemSource's import history and lock state

Global Options:
  --config string   Path to polyimport.yaml (default: ./polyimport.yaml)
  --json            Output machine-readable JSON instead of human text
  -q, --quiet       Suppress progress bars and non-essential output
  --no-color        Disable colored output
  -v, --verbose     Increase log verbosity (repeatable)

Examples:
  polyimport import --polygon-id 123 --code aplusb
  polyimport retrigger --source-id 7
  polyimport status --source-id 7 --json
`)
}

func configPathOrDefault(globals GlobalFlags) string {
	if globals.ConfigPath != "" {
		return globals.ConfigPath
	}
	return "polyimport.yaml"
}
