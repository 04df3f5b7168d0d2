// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package relayproxyd is the relay proxy daemon: it serves the submit
// and status HTTP endpoints and runs the four background workers that
// drive activities from CREATED to COMPLETED.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/diffeo/relayproxy/backend"
	"github.com/diffeo/relayproxy/outbound"
	"github.com/diffeo/relayproxy/submit"
	"github.com/diffeo/relayproxy/worker"
)

func main() {
	app := cli.NewApp()
	app.Name = "relayproxyd"
	app.Usage = "resilient HTTP forwarding proxy"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "YAML configuration file"},
		cli.StringFlag{Name: "backend", Value: "memory", Usage: "impl[:address] of the activity store"},
		cli.StringFlag{Name: "listen", Value: ":9090", Usage: "[ip]:port to listen on"},
		cli.StringFlag{Name: "node-id", Usage: "identifies this process in activity nodeId fields"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("relayproxyd")
	}
}

func run(c *cli.Context) error {
	log := logrus.New()

	var fc *fileConfig
	if path := c.String("config"); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return err
		}
		fc = loaded
	}

	nodeID := c.String("node-id")
	if nodeID == "" && fc != nil {
		nodeID = fc.NodeID
	}
	if nodeID == "" {
		hostname, _ := os.Hostname()
		nodeID = hostname
	}

	cfg := worker.DefaultConfig(nodeID)
	fc.applyTo(&cfg)
	cfg.NodeID = nodeID

	var b backend.Backend
	if c.IsSet("backend") {
		if err := b.Set(c.String("backend")); err != nil {
			return err
		}
	} else {
		b = fc.backendFor()
	}

	store, err := b.Store()
	if err != nil {
		return err
	}

	client := &outbound.Client{Timeout: cfg.OutboundTimeout}

	listen := c.String("listen")
	if listen == ":9090" && fc != nil && fc.Listen != "" {
		listen = fc.Listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &worker.Scheduler{
		Jobs: []worker.Job{
			{Name: "send", Interval: cfg.SendInterval, Run: (&worker.SendWorker{
				Store: store, Client: client, Config: cfg, Log: log.WithField("worker", "send"),
			}).Tick},
			{Name: "requeue", Interval: cfg.RequeueInterval, Run: (&worker.RequeueWorker{
				Store: store, Config: cfg, Log: log.WithField("worker", "requeue"),
			}).Tick},
			{Name: "retry_reply", Interval: cfg.RetryReplyInterval, Run: (&worker.RetryReplyWorker{
				Store: store, Client: client, Config: cfg, Log: log.WithField("worker", "retry_reply"),
			}).Tick},
			{Name: "cleanup", Interval: cfg.CleanupInterval, Run: (&worker.CleanupWorker{
				Store: store, Config: cfg, Log: log.WithField("worker", "cleanup"),
			}).Tick},
		},
		PanicHandler: func(job string, recovered interface{}) {
			log.WithFields(logrus.Fields{"worker": job, "panic": recovered}).Error("worker tick panicked")
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	router := submit.NewRouter(store, log.WithField("component", "submit"))
	server := &http.Server{Addr: listen, Handler: router}

	serverErrs := make(chan error, 1)
	go func() {
		log.WithField("listen", listen).Info("relayproxyd listening")
		serverErrs <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// On shutdown (§5) open HTTP connections get a grace period to
	// finish; the scheduler is then waited on, without a time bound,
	// until every in-flight tick has returned.
	shutdownGrace := fc.shutdownGrace(5 * time.Second)

	select {
	case err := <-serverErrs:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server stopped")
		}
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	wg.Wait()
	return nil
}
