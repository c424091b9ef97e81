package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nwalden/mailscan/pkg/logging"
	"github.com/nwalden/mailscan/pkg/scan"
	"github.com/nwalden/mailscan/pkg/source/s3mail"
)

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", "mailscan.yaml", "path to YAML config file")
	dbPath := fs.String("db", "", "path to the sender database (overrides config)")
	bucket := fs.String("bucket", "", "S3 bucket of the mail archive (overrides config)")
	prefix := fs.String("prefix", "", "S3 key prefix of the mail archive (overrides config)")
	follow := fs.Bool("follow", false, "keep running cycles until the source is exhausted")
	debug := fs.Bool("debug", false, "enable debug logging")
	pretty := fs.Bool("pretty", false, "human-friendly log output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.Init(*debug, *pretty)

	fc, err := LoadFileConfig(*configPath)
	if err != nil {
		return err
	}

	srcCfg := fc.sourceConfig(*bucket, *prefix)
	if srcCfg.Bucket == "" {
		return errors.New("--bucket (or source.bucket in the config file) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(fc, *dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	s3c, err := s3mail.NewClient(ctx)
	if err != nil {
		return err
	}
	archive, err := s3mail.NewArchive(s3c, srcCfg)
	if err != nil {
		return err
	}

	scanner, err := scan.New(archive, db, fc.scanConfig())
	if err != nil {
		return err
	}

	for {
		res, err := scanner.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("scan cycle: %w", err)
		}
		if res.Done {
			fmt.Printf("scan complete: %d records processed\n", res.TotalProcessed)
			return nil
		}
		if !*follow {
			fmt.Printf("cycle stopped at cursor after %d records this run; re-invoke to continue\n",
				res.RecordsProcessed)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
