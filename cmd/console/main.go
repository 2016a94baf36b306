package main

import (
	"flag"
	"log"

	"github.com/thusser/lambrecht/internal/app"
)

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID := flag.String("client-id", "lambrecht-console", "MQTT client id")
	topic := flag.String("topic", "lambrecht/report", "report topic")
	flag.Parse()

	log.Println("starting Lambrecht meteo console (MQTT subscriber)")

	if err := app.RunConsole(*broker, *clientID, *topic); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
