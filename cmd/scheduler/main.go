// Command scheduler runs the predictive task scheduler as a single
// long-lived process: the worker registry, heartbeat subscriber,
// duration predictor, dispatcher, and completion-feedback pipeline all
// share one etcd cluster and one event bus. The prediction store dials
// its own etcd client; every stream shares a second one.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	clientv3 "go.etcd.io/etcd/client/v3"

	"titansched/internal/config"
	"titansched/internal/dispatcher"
	"titansched/internal/events"
	"titansched/internal/feedback"
	"titansched/internal/heartbeat"
	"titansched/internal/persistence"
	"titansched/internal/predictor"
	"titansched/internal/registrar"
	"titansched/internal/registry"
	"titansched/internal/scorer"
	"titansched/internal/streaming"
	"titansched/internal/telemetry"
)

func main() {
	endpoints := flag.String("etcd-endpoints", "localhost:2379", "comma-separated etcd endpoints")
	dialTimeout := flag.Duration("etcd-dial-timeout", 5*time.Second, "etcd dial timeout")
	dev := flag.Bool("dev", false, "use the development logger (console, debug level)")
	flag.Parse()

	log, err := telemetry.NewLogger(*dev)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	eps := strings.Split(*endpoints, ",")

	store, err := persistence.NewEtcdStore(eps, *dialTimeout)
	if err != nil {
		log.Fatal("connect to etcd (prediction store)", zap.Error(err))
	}
	defer store.Close()

	client, err := clientv3.New(clientv3.Config{Endpoints: eps, DialTimeout: *dialTimeout})
	if err != nil {
		log.Fatal("connect to etcd (streams)", zap.Error(err))
	}
	defer client.Close()

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	bus := events.NewBus(256)
	reg := registry.New()
	regSub := registrar.New(reg, streaming.NewEtcdRegistrationSource(client), log.Named("registrar"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pred := predictor.NewHeuristic(ctx, predictor.Config{
		Alpha:               cfg.Alpha,
		DefaultDurationMs:   float64(cfg.DefaultDurationMs),
		ConfidenceThreshold: int64(cfg.ConfidenceThreshold),
		SnapshotInterval:    cfg.SnapshotInterval,
		PersistenceKey:      persistence.DefaultKey,
	}, store, log.Named("predictor"))

	sc, err := scorer.New(cfg)
	if err != nil {
		log.Fatal("construct scorer", zap.Error(err))
	}

	hb := heartbeat.New(reg, streaming.NewEtcdHeartbeatSource(client), bus, cfg, log.Named("heartbeat"))
	fb := feedback.New(pred, streaming.NewEtcdCompletionSource(client), bus, cfg, log.Named("feedback"))
	fb.SetDurationRecorder(hb)
	disp := dispatcher.New(
		streaming.NewEtcdTaskSource(client),
		streaming.NewEtcdPublisher(client),
		reg, pred, sc, cfg, log.Named("dispatcher"),
	)

	regSub.Start(ctx)
	hb.Start(ctx)
	fb.Start(ctx)
	go disp.Run(ctx)

	logEvents(ctx, bus, log)

	log.Info("scheduler started", zap.Strings("etcdEndpoints", eps))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	disp.Stop()
	fb.Stop()
	hb.Stop()
	regSub.Stop()
	cancel()
	pred.Shutdown(context.Background())
}

// logEvents drains the bus and logs every event at info level. The
// dispatcher and heartbeat subscriber report into their own
// telemetry.MetricsSink (telemetry.NopSink unless SetMetricsSink is
// called); this module only carries the sink's interface, not a
// concrete Prometheus backend (spec.md §1).
func logEvents(ctx context.Context, bus *events.Bus, log *zap.Logger) {
	ch := bus.Subscribe()
	go func() {
		for {
			select {
			case ev := <-ch:
				log.Info("event",
					zap.String("kind", string(ev.Kind)),
					zap.String("workerID", ev.WorkerID),
					zap.String("taskType", ev.TaskType),
					zap.Any("fields", ev.Fields),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
