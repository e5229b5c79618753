// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// foreman-credentials manages the sealed credential bundle the daemon
// reads at startup: the Matrix account password and per-agent API
// keys, encrypted at rest with a passphrase.
//
// Typical flow:
//
//	foreman-credentials template > creds.yaml
//	$EDITOR creds.yaml
//	foreman-credentials seal --in creds.yaml --out creds.age
//	rm creds.yaml
//
// Point services.matrix.credentials_file at the sealed output.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/foreman-chat/foreman/lib/config"
	"github.com/foreman-chat/foreman/lib/process"
	"github.com/foreman-chat/foreman/lib/sealed"
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
	case "seal":
		return runSeal(os.Args[2:])
	case "show":
		return runShow(os.Args[2:])
	case "template":
		return runTemplate()
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: foreman-credentials <subcommand> [flags]

Subcommands:
  template    Print a blank credentials bundle to stdout
  seal        Encrypt a plaintext bundle
  show        Decrypt a sealed bundle to stdout

Run 'foreman-credentials <subcommand> --help' for subcommand flags.
`)
}

func runTemplate() error {
	fmt.Print(`# Foreman credentials bundle. Seal this file with
# "foreman-credentials seal" and delete the plaintext.
matrix_password: ""
api_keys:
  default: ""
`)
	return nil
}

func runSeal(args []string) error {
	var inPath, outPath string
	flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	flagSet.StringVar(&inPath, "in", "", "plaintext bundle to seal (required)")
	flagSet.StringVar(&outPath, "out", "", "sealed output path (required)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if inPath == "" || outPath == "" {
		return fmt.Errorf("seal: --in and --out are required")
	}

	plaintext, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}
	// Parse before sealing so a malformed bundle fails here, with the
	// plaintext still in hand, not at daemon startup.
	var creds config.Credentials
	decoder := yaml.NewDecoder(bytes.NewReader(plaintext))
	decoder.KnownFields(true)
	if err := decoder.Decode(&creds); err != nil {
		return fmt.Errorf("parsing %s: %w", inPath, err)
	}

	passphrase, err := promptPassphrase(true)
	if err != nil {
		return err
	}
	armored, err := sealed.Seal(plaintext, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, armored, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	fmt.Fprintf(os.Stderr, "sealed %s -> %s\n", inPath, outPath)
	return nil
}

func runShow(args []string) error {
	var inPath string
	flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
	flagSet.StringVar(&inPath, "in", "", "sealed bundle to decrypt (required)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if inPath == "" {
		return fmt.Errorf("show: --in is required")
	}

	armored, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}
	passphrase, err := promptPassphrase(false)
	if err != nil {
		return err
	}
	plaintext, err := sealed.Unseal(armored, passphrase)
	if err != nil {
		return err
	}
	os.Stdout.Write(plaintext)
	return nil
}

// promptPassphrase reads a passphrase without echo, asking twice when
// confirm is set. FOREMAN_PASSPHRASE bypasses the prompt for
// scripting.
func promptPassphrase(confirm bool) (string, error) {
	if passphrase := os.Getenv("FOREMAN_PASSPHRASE"); passphrase != "" {
		return passphrase, nil
	}
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return "", fmt.Errorf("stdin is not a terminal; set FOREMAN_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}
