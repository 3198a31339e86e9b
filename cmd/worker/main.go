// Command worker runs one claim/execute/finalize loop plus its heartbeat
// goroutine, grounded on original_source/worker/main.py's signal-handling
// shutdown and _teacher_fluxforge_ref/agent/main.go's backoff-free SIGINT/
// SIGTERM wiring.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/config"
	"github.com/taskflow-io/taskflow/handlers"
	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received, finishing current task before exit")
		cancel()
	}()

	s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer s.Close()

	high, err := broker.NewRedis(ctx, addr(cfg.BrokerHostHigh, cfg.BrokerPortHigh))
	if err != nil {
		log.Fatalf("broker high: %v", err)
	}
	defer high.Close()

	low, err := broker.NewRedis(ctx, addr(cfg.BrokerHostLow, cfg.BrokerPortLow))
	if err != nil {
		log.Fatalf("broker low: %v", err)
	}
	defer low.Close()

	registry := handlers.NewRegistry()
	handlers.RegisterBuiltins(registry)

	rt := worker.New(s, worker.Brokers{High: high, Low: low}, registry, cfg.MaxRetries, cfg.TaskTimeout)

	hb := worker.NewHeartbeat(high, rt.WorkerID(), cfg.HeartbeatInterval, cfg.HeartbeatTTL)
	go hb.Run(ctx)

	rt.Run(ctx)
	log.Println("worker stopped")
}

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
