package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/airfuse/airfuse/internal/app"
	"github.com/airfuse/airfuse/internal/config"
	"github.com/airfuse/airfuse/internal/log"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "airfuse.yaml", "Path to optional YAML config overlay (environment variables take effect first)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("airfused %s\n", version)
		os.Exit(0)
	}

	cfg := config.FromEnv()
	if err := cfg.LoadFile(*cfgFile); err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	if err := log.Init(cfg.Debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Errorf("Configuration invalid: %v", err)
		os.Exit(1)
	}

	application := app.New(cfg, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
