package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/pkgsight/pkgsight/internal/config"
	"github.com/pkgsight/pkgsight/internal/retention"
	"github.com/pkgsight/pkgsight/internal/store"
)

// Manual retention entry point for operators: runs one free-tier sweep (or
// just reports stats with -dry-run) and prints the structured result.
func main() {
	dryRun := flag.Bool("dry-run", false, "report free-tier data stats without deleting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	enforcer := retention.NewEnforcer(db.Pool(), cfg.RetentionDays, nil)
	ctx := context.Background()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *dryRun {
		stats, err := enforcer.Stats(ctx)
		if err != nil {
			log.Fatal(err)
		}
		_ = enc.Encode(stats)
		return
	}

	res := enforcer.Run(ctx)
	_ = enc.Encode(res)
	if !res.Success {
		os.Exit(1)
	}
}
