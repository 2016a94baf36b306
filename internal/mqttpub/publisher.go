// Package mqttpub publishes completed reports to an MQTT broker so that
// consoles and other listeners can follow the station live.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thusser/lambrecht/internal/meteo"
)

// Publisher pushes each report as retained JSON on one topic.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// New connects to the broker. The returned publisher is registered as a
// poller subscriber via Publish.
func New(broker, clientID, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to broker at %s", broker)

	return &Publisher{client: client, topic: topic}, nil
}

// Publish sends the report. It runs inside the poll loop's callback, so it
// must not hang: a bounded wait, then move on and let the next report catch
// the listeners up.
func (p *Publisher) Publish(r meteo.Report) {
	payload, err := json.Marshal(r)
	if err != nil {
		log.Printf("mqtt: report marshal error: %v", err)
		return
	}

	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		log.Printf("mqtt: publish to %s failed: %v", p.topic, token.Error())
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
