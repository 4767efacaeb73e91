// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/qubes-community/qvm-remote/internal/daemon"
)

const (
	dom0Name = "qvm-remote-dom0"

	dom0Usage = `Usage of 'qvm-remote-dom0':
    qvm-remote-dom0 [flags...] <subcommand>

Dom0 executor for qvm-remote command queues. All subcommands require
root. The -vm flag performs one queue sweep for the named VM and is
intended to be triggered by the privileged pull mechanism.

Subcommands:
    authorize <vm> <hex-key>          store a VM's authentication key
    revoke <vm>                       delete a VM's key (destructive)
    connect <vm> | disconnect <vm>    toggle participation in polling
    enable | disable | start | stop | restart
                                      service lifecycle
    queue <vm> status|clean|recover|debug
                                      per-VM queue diagnostics
    status                            health across all authorized VMs
`
)

type dom0Flags struct {
	flagSet *flag.FlagSet

	vm      string
	yes     bool
	debug   bool
	version bool
}

func newDom0Flags(output io.Writer) *dom0Flags {
	flags := &dom0Flags{}

	fs := flag.NewFlagSet(dom0Name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, dom0Usage)
		fmt.Fprintln(output, "\nFlags:")
		fs.PrintDefaults()
	}

	fs.StringVar(
		&flags.vm,
		"vm",
		flags.vm,
		"perform one queue sweep for the named VM",
	)

	fs.BoolVar(
		&flags.yes,
		"y",
		flags.yes,
		"skip confirmation prompts",
	)

	fs.BoolVar(
		&flags.debug,
		"debug",
		flags.debug,
		"enable debug output",
	)

	fs.BoolVar(
		&flags.version,
		"version",
		flags.version,
		"show version and exit",
	)

	flags.flagSet = fs

	return flags
}

// RunDom0 is the main entry point for the dom0 daemon CLI.
func RunDom0(ctx context.Context, args []string, cfg IO) int {
	flags := newDom0Flags(cfg.Stderr)

	err := flags.flagSet.Parse(args)
	if err != nil {
		if errors.Is(err, ErrHelp) {
			return 0
		}

		return 2
	}

	setupLogging(cfg.Stderr, flags.debug)

	if flags.version {
		printVersion(dom0Name, cfg.Stdout)
		return 0
	}

	err = runDom0(ctx, flags, cfg)
	if err != nil {
		return dom0ExitCode(err, cfg.Stderr)
	}

	return 0
}

func runDom0(ctx context.Context, flags *dom0Flags, cfg IO) error {
	conf, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	dmn := daemon.New(conf)

	if flags.vm != "" {
		answered, err := dmn.PollOnce(ctx, flags.vm)
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "answered %d entries\n", answered)

		return nil
	}

	args := flags.flagSet.Args()
	if len(args) == 0 {
		flags.flagSet.Usage()
		return &ParseArgsError{msg: "no subcommand given"}
	}

	switch args[0] {
	case "authorize":
		if len(args) != 3 {
			return &ParseArgsError{
				msg: "usage: qvm-remote-dom0 authorize <vm> <hex-key>",
			}
		}

		err := dmn.Authorize(args[1], args[2])
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "authorized %s\n", args[1])

		return nil
	case "revoke":
		if len(args) != 2 {
			return &ParseArgsError{
				msg: "usage: qvm-remote-dom0 revoke <vm>",
			}
		}

		prompt := fmt.Sprintf("Revoke the key for %s?", args[1])
		if !flags.yes && !confirm(cfg, prompt) {
			return fmt.Errorf("revoke aborted: %w",
				daemon.ErrConfirmationRequired)
		}

		err := dmn.Revoke(args[1])
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "revoked %s\n", args[1])

		return nil
	case "connect", "disconnect":
		if len(args) != 2 {
			return &ParseArgsError{
				msg: "usage: qvm-remote-dom0 " + args[0] + " <vm>",
			}
		}

		if args[0] == "connect" {
			err = dmn.Connect(args[1])
		} else {
			err = dmn.Disconnect(args[1])
		}

		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "%sed %s\n", args[0], args[1])

		return nil
	case "enable", "disable", "start", "stop", "restart":
		if daemon.DestructiveServiceAction(args[0]) && !flags.yes {
			prompt := fmt.Sprintf("Really %s the service?", args[0])
			if !confirm(cfg, prompt) {
				return fmt.Errorf("%s aborted: %w",
					args[0], daemon.ErrConfirmationRequired)
			}
		}

		err := dmn.Service(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "service %s done\n", args[0])

		return nil
	case "queue":
		return runDom0Queue(dmn, flags, args[1:], cfg)
	case "status":
		// Refuse before the systemctl probe runs.
		err := daemon.RequireRoot("status")
		if err != nil {
			return err
		}

		state := "unknown"

		active, err := dmn.ServiceActive(ctx)
		if err == nil {
			state = "inactive"
			if active {
				state = "active"
			}
		}

		fmt.Fprintf(cfg.Stdout, "service: %s\n", state)

		return dmn.StatusReport(ctx, cfg.Stdout)
	default:
		return &ParseArgsError{msg: "unknown subcommand: " + args[0]}
	}
}

func runDom0Queue(
	dmn *daemon.Daemon,
	flags *dom0Flags,
	args []string,
	cfg IO,
) error {
	usage := &ParseArgsError{
		msg: "usage: qvm-remote-dom0 queue <vm> status|clean|recover|debug",
	}

	if len(args) != 2 {
		return usage
	}

	vm := args[0]

	switch args[1] {
	case "status":
		return dmn.QueueStatus(vm, cfg.Stdout)
	case "clean":
		prompt := fmt.Sprintf("Remove all queue entries for %s?", vm)
		if !flags.yes && !confirm(cfg, prompt) {
			return fmt.Errorf("queue clean aborted: %w",
				daemon.ErrConfirmationRequired)
		}

		removed, err := dmn.QueueClean(vm)
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "removed %d files\n", removed)

		return nil
	case "recover":
		recovered, err := dmn.QueueRecover(vm)
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "recovered %d entries\n", recovered)

		return nil
	case "debug":
		return dmn.QueueDebug(vm, cfg.Stdout)
	default:
		return usage
	}
}

// dom0ExitCode maps an error to the daemon CLI's exit code and prints
// the operator facing message. Privilege refusals are precise and
// happen before any side effect.
func dom0ExitCode(err error, stderr io.Writer) int {
	if errors.Is(err, ErrHelp) {
		return 0
	}

	fmt.Fprintln(stderr, err.Error())

	switch {
	case errors.Is(err, &ParseArgsError{}):
		return 2
	case errors.Is(err, &daemon.PrivilegeError{}):
		return 77
	default:
		return 1
	}
}
