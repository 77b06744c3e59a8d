package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/internal/setup"
	"github.com/unklstewy/tracon-scope/pkg/config"
)

// Terminal radar scope. With -server it reads a running scope server,
// otherwise it polls adsb.lol and evaluates alerts in process.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	serverURL := flag.String("server", "", "Scope server base URL (e.g. http://localhost:8080)")
	radius := flag.Float64("radius", 40, "Initial display range in nautical miles")
	noWx := flag.Bool("no-wx", false, "Do not sample weather in local mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The terminal belongs to the scope; logs only go to the file.
	cfg.Logging.Stderr = false
	lg := logging.New("scope-tui", cfg.Logging)
	defer lg.Close()

	interval := cfg.Feed.PollInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var src source
	if *serverURL != "" {
		src = newRemoteSource(*serverURL)
	} else {
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}

		client := setup.ADSBClient(cfg.ADSB)
		defer client.Close()

		feedSvc, err := setup.FeedService(cfg, client, nil, lg.Logger)
		if err != nil {
			log.Fatalf("Failed to create feed: %v", err)
		}
		engine, err := setup.Engine(cfg.Airspace, lg.Logger)
		if err != nil {
			log.Fatalf("Failed to create rule engine: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		feedSvc.Start(ctx)
		defer feedSvc.Stop()

		local := &localSource{feed: feedSvc, engine: engine, logger: lg.Logger, wxEvery: 2 * time.Minute}
		if !*noWx {
			local.sampler = setup.Sampler(cfg.Weather)
		}
		src = local
	}

	p := tea.NewProgram(newModel(src, *radius, interval), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
