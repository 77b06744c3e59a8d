package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/config"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	server := flag.String("server", "", "Scope server base URL (default: http://localhost:<server.port>)")
	noRules := flag.Bool("no-flight-rules", false, "Do not follow the flight rules stream")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("alert-monitor version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	baseURL := *server
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Server.Port
	}
	wsURL, err := socketURL(baseURL)
	if err != nil {
		log.Fatalf("Invalid server: %v", err)
	}

	cfg.Logging.Stderr = false
	lg := logging.New("alert-monitor", cfg.Logging)
	defer lg.Close()

	rules, err := airspace.NewFlightRules(cfg.Airspace.FlightRulesCacheSize)
	if err != nil {
		log.Fatalf("Failed to create flight rules cache: %v", err)
	}

	app := NewApp(baseURL, rules, NewLogManager(200, lg.Logger))
	handlers := Handlers{
		OnFrame:       app.HandleFrame,
		OnFlightRules: app.HandleFlightRules,
		OnStatus:      app.HandleStatus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runSocket(ctx, wsURL, handlers)
	if !*noRules {
		go runFlightRules(ctx, baseURL, handlers)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func printHelp() {
	fmt.Println("alert-monitor - live traffic and alert list for a scope server")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  alert-monitor [options]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to configuration file (default: configs/config.json)")
	fmt.Println("  -server string")
	fmt.Println("        Scope server base URL")
	fmt.Println("  -no-flight-rules")
	fmt.Println("        Do not follow the flight rules stream")
	fmt.Println("  -version")
	fmt.Println("        Show version information")
	fmt.Println()
	fmt.Println("KEYBOARD SHORTCUTS:")
	fmt.Println("  ↑/↓            Scroll traffic")
	fmt.Println("  s              Cycle sort (callsign, altitude, speed)")
	fmt.Println("  a              Show alerting traffic only")
	fmt.Println("  q or ESC       Quit")
	fmt.Println()
	fmt.Println("Alerting aircraft are listed first in red. Coasting tracks are gray.")
}
