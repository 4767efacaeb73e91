// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd implements the command line surface of both binaries:
// the VM side client and the dom0 side daemon.
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

// IO provides input and output streams for a command invocation.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func printVersion(name string, w io.Writer) {
	version := "dev"

	buildInfo, ok := debug.ReadBuildInfo()
	if ok && buildInfo.Main.Version != "" {
		version = buildInfo.Main.Version
	}

	fmt.Fprintf(w, "%s %s\n", name, version)
}

// confirm asks for interactive confirmation of a destructive operation.
// Anything but an explicit yes refuses.
func confirm(cfg IO, prompt string) bool {
	fmt.Fprintf(cfg.Stderr, "%s [y/N] ", prompt)

	scanner := bufio.NewScanner(cfg.Stdin)
	if !scanner.Scan() {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))

	return answer == "y" || answer == "yes"
}
