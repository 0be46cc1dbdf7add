package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/clinivo/messaging/internal/config"
	"github.com/clinivo/messaging/internal/daemon"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the daemon config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	app := fx.New(daemon.Module(cfg))
	app.Run()
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clinivo-messaging", "config.toml")
}
