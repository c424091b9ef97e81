package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/nwalden/mailscan/pkg/export"
	"github.com/nwalden/mailscan/pkg/logging"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "mailscan.yaml", "path to YAML config file")
	dbPath := fs.String("db", "", "path to the sender database (overrides config)")
	out := fs.String("out", "", "output parquet file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}
	logging.Init(false, true)

	fc, err := LoadFileConfig(*configPath)
	if err != nil {
		return err
	}

	db, err := openDB(fc, *dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := export.WriteSnapshotFile(context.Background(), db, *out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d senders to %s\n", n, *out)
	return nil
}
