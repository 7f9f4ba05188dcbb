package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/foshk/gateway/internal/app"
	"github.com/foshk/gateway/internal/log"
	"github.com/foshk/gateway/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("foshk-gateway %s\n", version)
		os.Exit(0)
	}

	filename, _ := filepath.Abs(*cfgFile)
	provider := config.NewYAMLProvider(filename)
	cfg, err := provider.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration. Did you pass the -config flag? Run with -h for help: %v\n", err)
		os.Exit(1)
	}

	logfile := ""
	if cfg.Logging.Enable {
		logfile = cfg.Logging.File
	}
	if err := log.Init(*debug, logfile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if !*debug && cfg.Logging.Level != "" {
		if err := log.SetLevel(cfg.Logging.Level); err != nil {
			log.Warnf("ignoring LOG_LEVEL: %v", err)
		}
	}

	application := app.New(provider, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
