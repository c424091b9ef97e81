// Package cli implements the command-line interface for mailscan.
package cli

import (
	"errors"
	"fmt"
)

const usage = `usage: mailscan <command> [options]
commands:
  scan    run scan cycles against the mail archive
  status  show cursor position and store totals
  export  write a parquet snapshot of the ranked senders
  reset   delete store, index, and resumption state`

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "scan":
		return runScan(args[1:])
	case "status":
		return runStatus(args[1:])
	case "export":
		return runExport(args[1:])
	case "reset":
		return runReset(args[1:])
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
}
