package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/nwalden/mailscan/pkg/logging"
)

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	configPath := fs.String("config", "mailscan.yaml", "path to YAML config file")
	dbPath := fs.String("db", "", "path to the sender database (overrides config)")
	yes := fs.Bool("yes", false, "confirm deletion of all aggregated data")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("reset deletes the store, index, and scan state; pass --yes to confirm")
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

	if err := db.Reset(context.Background()); err != nil {
		return err
	}
	fmt.Println("sender database reset")
	return nil
}
