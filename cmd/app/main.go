package main

import (
	"flag"
	"os"

	"SignalForge/internal/di"
	"SignalForge/pkg/config"
	applogger "SignalForge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	boot, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stderr"})

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot.Error("config load failed", applogger.String("path", *configPath), applogger.Error(err))
		os.Exit(1)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		boot.Error("app initialization failed", applogger.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	boot.Info("dependencies ready",
		applogger.String("env", cfg.Environment),
		applogger.String("bars", cfg.Storage.Bars),
		applogger.String("signals", cfg.Storage.Signals),
		applogger.Bool("kafka", cfg.Kafka.Enabled),
	)

	if err := app.Run(); err != nil {
		boot.Error("app error", applogger.Error(err))
		cleanup()
		os.Exit(1)
	}
}
