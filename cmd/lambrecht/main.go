package main

import (
	"flag"
	"log"

	"github.com/thusser/lambrecht/internal/app"
	"github.com/thusser/lambrecht/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to the KEY=VALUE config file (defaults apply without one)")
	flag.Parse()

	log.Println("starting Lambrecht meteo station daemon")

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}

	if err := app.Run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
