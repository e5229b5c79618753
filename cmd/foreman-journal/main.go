// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// foreman-journal inspects the run journals the engine writes under
// the data directory: one CBOR file per run recording every
// think-act-observe step. Useful for auditing what a run actually did
// after the chat transcript has scrolled away.
//
//	foreman-journal list --dir data/journals
//	foreman-journal show --dir data/journals --run <run-id>
//	foreman-journal archive --dir data/journals --run <run-id>
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/foreman-chat/foreman/lib/journal"
	"github.com/foreman-chat/foreman/lib/markdown"
	"github.com/foreman-chat/foreman/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}
	switch os.Args[1] {
	case "list":
		return runList(os.Args[2:])
	case "show":
		return runShow(os.Args[2:])
	case "archive":
		return runArchive(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: foreman-journal <subcommand> [flags]

Subcommands:
  list        List run journals, newest first
  show        Print a run's step records
  archive     Compress a finished run journal

Run 'foreman-journal <subcommand> --help' for subcommand flags.
`)
}

func runList(args []string) error {
	var dir string
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "", "journal directory (required)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if dir == "" {
		return fmt.Errorf("list: --dir is required")
	}

	entries, err := journal.List(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no journals")
		return nil
	}
	for _, entry := range entries {
		flag := " "
		if entry.Archived {
			flag = "z"
		}
		fmt.Printf("%s  %s  %8d  %s\n",
			flag,
			entry.ModTime.Format("2006-01-02 15:04:05"),
			entry.Size,
			entry.RunID)
	}
	return nil
}

func runShow(args []string) error {
	var dir, runID string
	var plain bool
	flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "", "journal directory (required)")
	flagSet.StringVar(&runID, "run", "", "run ID to show (required)")
	flagSet.BoolVar(&plain, "plain", false, "disable syntax highlighting")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if dir == "" || runID == "" {
		return fmt.Errorf("show: --dir and --run are required")
	}

	path, err := findJournal(dir, runID)
	if err != nil {
		return err
	}
	reader, err := journal.Open(path)
	if err != nil {
		return err
	}

	highlight := !plain && term.IsTerminal(int(os.Stdout.Fd()))
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		text := string(encoded)
		if highlight {
			text = markdown.HighlightTerminal(text, "json")
		}
		fmt.Println(text)
	}
	if reader.Truncated() {
		fmt.Fprintln(os.Stderr, "warning: journal ends mid-record (crashed run)")
	}
	return nil
}

func runArchive(args []string) error {
	var dir, runID, codecName string
	flagSet := pflag.NewFlagSet("archive", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "", "journal directory (required)")
	flagSet.StringVar(&runID, "run", "", "run ID to archive (required)")
	flagSet.StringVar(&codecName, "codec", "zstd", "compression codec: zstd, lz4, raw")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if dir == "" || runID == "" {
		return fmt.Errorf("archive: --dir and --run are required")
	}
	codec, err := journal.ParseCodec(codecName)
	if err != nil {
		return err
	}

	archivePath, err := journal.Archive(journal.Path(dir, runID), codec)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "archived to %s\n", archivePath)
	return nil
}

// findJournal locates a run's journal, raw or archived.
func findJournal(dir, runID string) (string, error) {
	entries, err := journal.List(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.RunID == runID {
			return entry.Path, nil
		}
	}
	return "", fmt.Errorf("no journal for run %q in %s", runID, dir)
}
