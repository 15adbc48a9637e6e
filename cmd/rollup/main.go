// Command rollup aggregates one UTC day of hourly rows into the daily
// trend table. The scheduler does this automatically after midnight;
// this tool covers backfills and missed runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/airfuse/airfuse/internal/config"
	"github.com/airfuse/airfuse/internal/log"
	"github.com/airfuse/airfuse/internal/storage"
)

func main() {
	cfgFile := flag.String("config", "airfuse.yaml", "Path to optional YAML config overlay")
	dateStr := flag.String("date", "", "UTC date to roll up (YYYY-MM-DD, default: yesterday)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.FromEnv()
	if err := cfg.LoadFile(*cfgFile); err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	date := time.Now().UTC().AddDate(0, 0, -1)
	if *dateStr != "" {
		parsed, err := time.Parse("2006-01-02", *dateStr)
		if err != nil {
			log.Errorf("Invalid -date %q: %v", *dateStr, err)
			os.Exit(1)
		}
		date = parsed
	}

	store, err := storage.New(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		log.Errorf("Database connection failed: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		log.Errorf("Migration failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	created, err := store.RollupDaily(ctx, date)
	if err != nil {
		log.Errorf("Rollup failed: %v", err)
		os.Exit(1)
	}
	log.Infof("Rollup complete: %d daily rows for %s", created, date.Format("2006-01-02"))
}
