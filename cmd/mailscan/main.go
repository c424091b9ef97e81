// Command mailscan aggregates a paginated mail archive into a per-sender
// database with checkpointed, resumable scans.
package main

import (
	"fmt"
	"os"

	"github.com/nwalden/mailscan/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
