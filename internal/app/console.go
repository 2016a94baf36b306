package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thusser/lambrecht/internal/meteo"
)

// RunConsole subscribes to the report topic and prints every reading, for
// watching the station live from a terminal.
func RunConsole(broker, clientID, topic string) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", broker)

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r meteo.Report
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("console: report unmarshal error: %v", err)
			return
		}

		names := make([]string, 0, len(r.Values))
		for name := range r.Values {
			names = append(names, name)
		}
		sort.Strings(names)

		cols := make([]string, 0, len(names))
		for _, name := range names {
			cols = append(cols, fmt.Sprintf("%s=%.2f", name, r.Values[name]))
		}
		fmt.Printf("[%s] %s\n", r.Time.Format("15:04:05"), strings.Join(cols, "  "))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", topic)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
