// Command coordinator runs the Scheduler, Recovery Scanner, Processing
// Reclaimer and Reconciler loops behind a leader election, plus the
// /metrics and /events HTTP surfaces. Grounded on
// control_plane/main.go's bare net/http route registration and
// go api.wsHub.Run(ctx) background-goroutine pattern.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskflow-io/taskflow/broker"
	"github.com/taskflow-io/taskflow/config"
	"github.com/taskflow-io/taskflow/coordination"
	"github.com/taskflow-io/taskflow/eventstream"
	"github.com/taskflow-io/taskflow/scheduler"
	"github.com/taskflow-io/taskflow/store"
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
		log.Println("shutdown signal received")
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

	brokers := scheduler.Brokers{High: high, Low: low}

	sched := scheduler.NewScheduler(s, brokers, cfg.SchedulerTick)
	recovery := scheduler.NewRecoveryScanner(s, brokers, cfg.ReclaimInterval, cfg.MaxRetries)
	reclaimer := scheduler.NewProcessingReclaimer(s, brokers, cfg.ReclaimInterval, cfg.ProcessingTTL)
	reconciler := scheduler.NewReconciler(s, brokers, cfg.ReconcileInterval)

	elector := coordination.NewElector(high, cfg.LeaseTTL, cfg.RenewInterval)
	elector.SetCallbacks(func(leadCtx context.Context) {
		log.Println("leading: starting scheduler, recovery, reclaimer, reconciler loops")
		go sched.Run(leadCtx)
		go recovery.Run(leadCtx)
		go reclaimer.Run(leadCtx)
		go reconciler.Run(leadCtx)
	}, func() {
		log.Println("lost leadership: loops stopping via context cancellation")
	})
	go elector.Run(ctx)

	hub := eventstream.NewHub(s)
	go hub.Run(ctx)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/events", hub)

	server := &http.Server{Addr: cfg.MetricsAddr, Handler: http.DefaultServeMux}
	go func() {
		log.Printf("coordinator listening on %s", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	log.Println("coordinator stopped")
}

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
