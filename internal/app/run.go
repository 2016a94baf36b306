package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thusser/lambrecht/internal/config"
	"github.com/thusser/lambrecht/internal/history"
	"github.com/thusser/lambrecht/internal/influx"
	"github.com/thusser/lambrecht/internal/meteo"
	"github.com/thusser/lambrecht/internal/mqttpub"
	"github.com/thusser/lambrecht/internal/poller"
	"github.com/thusser/lambrecht/internal/queue"
	"github.com/thusser/lambrecht/internal/serial"
	"github.com/thusser/lambrecht/internal/web"
)

// Run wires the daemon together and blocks until SIGINT/SIGTERM.
func Run(cfg *config.Config) error {
	asm, err := meteo.NewAssembler(cfg.AssemblerConfig())
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	link, err := serial.NewLink(serial.Config{
		Port:        cfg.SerialPort,
		BaudRate:    cfg.BaudRate,
		DataBits:    cfg.DataBits,
		Parity:      cfg.Parity,
		StopBits:    cfg.StopBits,
		RTSCTS:      cfg.RTSCTS,
		ReadTimeout: time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	p := poller.New(poller.Config{
		InitialBackoff: time.Duration(cfg.BackoffInitialMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
		FailureStep:    cfg.FailureStep,
		IdlePause:      time.Duration(cfg.PollPauseMS) * time.Millisecond,
	}, link, asm)

	sink := influx.New(influx.Config{
		URL:         cfg.InfluxURL,
		Token:       cfg.InfluxToken,
		Org:         cfg.InfluxOrg,
		Bucket:      cfg.InfluxBucket,
		Measurement: cfg.InfluxMeasurement,
	})
	defer sink.Close()

	q := queue.New(queue.Config{
		RetryPause: time.Duration(cfg.ForwardRetryMS) * time.Millisecond,
	}, sink)

	hist := history.New(history.Config{
		LogFile:  cfg.LogFile,
		Fields:   cfg.FieldNames(),
		Interval: time.Duration(cfg.AverageIntervalMin) * time.Minute,
		Keep:     cfg.HistoryKeep,
	})

	srv := web.NewServer(cfg.WebAddr, cfg.StaticDir, hist)

	var pub *mqttpub.Publisher
	if cfg.MQTTBroker != "" {
		pub, err = mqttpub.New(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		defer pub.Close()
	}

	// Fan-out per completed report: dashboard, history, forwarding, MQTT.
	p.Subscribe(srv.OnReport)
	p.Subscribe(hist.Add)
	p.Subscribe(q.Submit)
	if pub != nil {
		p.Subscribe(pub.Publish)
	}

	go func() {
		for err := range q.Errors() {
			log.Printf("app: report lost: %v", err)
		}
	}()

	q.Start()
	p.Start()
	if err := hist.Start(); err != nil {
		p.Stop()
		q.Stop()
		return fmt.Errorf("app: %w", err)
	}
	srv.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.Printf("app: received %s, shutting down", s)

	p.Stop()
	q.Stop()
	hist.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Stop(ctx)

	return nil
}
