// Package main stages and republishes a single source record, then exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/immoflow/propsync/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	var configPath string
	var sourceID int
	flag.StringVar(&configPath, "config", "config.yml", "Path to configuration file")
	flag.IntVar(&sourceID, "id", 0, "Source record id to sync")
	flag.Parse()

	if sourceID <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: syncone -id <source record id> [-config config.yml]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to close application: %v\n", closeErr)
		}
	}()

	if syncErr := application.SyncOne(context.Background(), sourceID); syncErr != nil {
		application.Logger().Error("Single-record sync failed")
		os.Exit(1)
	}
}
