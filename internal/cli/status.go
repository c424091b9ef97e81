package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/nwalden/mailscan/pkg/logging"
	"github.com/nwalden/mailscan/pkg/senderdb"
)

func openDB(fc FileConfig, dbPath string) (*senderdb.DB, error) {
	return senderdb.Open(fc.dbConfig(dbPath))
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "mailscan.yaml", "path to YAML config file")
	dbPath := fs.String("db", "", "path to the sender database (overrides config)")
	owner := fs.String("owner", "default", "scan owner")
	top := fs.Int("top", 10, "number of top senders to show")

	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.Init(false, true)

	fc, err := LoadFileConfig(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openDB(fc, *dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := db.LoadState(ctx, *owner)
	if err != nil {
		return err
	}
	senders, err := db.SenderCount(ctx)
	if err != nil {
		return err
	}
	indexed, err := db.IndexCount(ctx)
	if err != nil {
		return err
	}

	if st.Initialized {
		fmt.Printf("scan in progress: cursor=%d total_processed=%d\n", st.Cursor, st.TotalProcessed)
	} else {
		fmt.Println("no scan in progress")
	}
	fmt.Printf("senders: %d rows, %d index entries\n", senders, indexed)

	if err := db.CheckConsistency(ctx); err != nil {
		fmt.Printf("consistency: FAILED (%v)\n", err)
	} else {
		fmt.Println("consistency: ok")
	}

	if *top > 0 {
		rows, err := db.Ranked(ctx, *top)
		if err != nil {
			return err
		}
		for i, r := range rows {
			fmt.Printf("%3d. %6d  %s\n", i+1, r.Count, r.Address)
		}
	}
	return nil
}
