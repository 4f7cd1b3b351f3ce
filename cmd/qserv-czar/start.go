package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/qserv/qserv-go/internal/czctl"
	"github.com/qserv/qserv-go/internal/health"
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/mariadb"
	"github.com/qserv/qserv-go/internal/qdisp"
	"github.com/qserv/qserv-go/internal/qmeta"
	"github.com/qserv/qserv-go/internal/qstatus"
	"github.com/qserv/qserv-go/internal/qstore"
	"github.com/qserv/qserv-go/internal/rproc"
	"github.com/qserv/qserv-go/pkg/config"
	"github.com/qserv/qserv-go/pkg/qlog"
	"github.com/qserv/qserv-go/pkg/qmetrics"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a czar coordinator",
	Long:  `Start the query executive, the worker-query-status round, and the health monitor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		czarID, _ := cmd.Flags().GetString("czar-id")
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := config.DefaultCzarConfig()
		if configPath != "" {
			var err error
			cfg, err = config.LoadCzarConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}
		if len(cfg.Workers) == 0 {
			return fmt.Errorf("czar config: no workers configured")
		}

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		store, err := qstore.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
		defer store.Close()

		gcWatermark, err := store.GCWatermark()
		if err != nil {
			return fmt.Errorf("read gc watermark: %w", err)
		}
		epoch := ids.Epoch(time.Now().UnixNano())

		var doc qmeta.Document
		if cfg.ChunkMapPath != "" {
			doc, err = qmeta.LoadDocument(cfg.ChunkMapPath)
			if err != nil {
				return fmt.Errorf("load chunk map: %w", err)
			}
		}
		chunkMap := qmeta.Build(doc)

		addrBook := czctl.AddressBook(func(w ids.WorkerID) (string, bool) {
			addr, ok := cfg.Workers[string(w)]
			return addr, ok
		})
		client := czctl.NewWorkerClient(addrBook, time.Duration(cfg.StatusRound.TimeoutSec)*time.Second)

		status := qstatus.NewCzarSide(czarID, epoch, time.Hour, gcWatermark)

		resultDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.MySQL.Username, cfg.MySQL.Password, cfg.MySQL.Hostname, cfg.MySQL.Port, cfg.MySQL.DB)
		resultPool, err := mariadb.Open(mariadb.Config{DSN: resultDSN, MaxOpenConns: 10, MaxIdleConns: 10, ConnMaxLifetime: time.Hour})
		if err != nil {
			return fmt.Errorf("open result-table mariadb pool: %w", err)
		}
		defer resultPool.Close()
		merger := rproc.NewMerger(resultPool, cfg.MaxMergeBatchBytes)

		exec := qdisp.NewExecutive(czarID, epoch, chunkMap, client, client, merger, status, cfg.CollectPoolSize)

		callbackServer := qdisp.NewServer(exec)
		httpServer := callbackServer.NewHTTPServer(listenAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			qlog.WithComponent("qserv-czar").Info().Str("addr", listenAddr).Msg("serving queryjob-ready/queryjob-error callbacks")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				qlog.WithComponent("qserv-czar").Error().Err(err).Msg("http server error")
			}
		}()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", qmetrics.Handler())
			qlog.WithComponent("qserv-czar").Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				qlog.WithComponent("qserv-czar").Error().Err(err).Msg("metrics server error")
			}
		}()

		runStatusRounds(ctx, cfg, status, client, store, exec)
		runHealthMonitor(ctx, cfg, exec)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		qlog.WithComponent("qserv-czar").Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	},
}

// runStatusRounds starts the C12 periodic round against every configured
// worker, persisting any epoch change qstore hasn't seen yet so a czar
// restart can still detect a worker that restarted in the meantime, and
// squashing any query a worker's §4.5 booting governor flagged for
// cancellation.
func runStatusRounds(ctx context.Context, cfg config.CzarConfig, status *qstatus.CzarSide, client *czctl.WorkerClient, store *qstore.Store, exec *qdisp.Executive) {
	interval := time.Duration(cfg.StatusRound.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	for workerID := range cfg.Workers {
		w := ids.WorkerID(workerID)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					msg := status.BuildMessage()
					reply, err := client.PostStatus(ctx, w, msg)
					if err != nil {
						qlog.WithComponent("qserv-czar").Warn().Err(err).Str("worker", string(w)).Msg("status round failed")
						continue
					}
					for _, qid := range status.ApplyReply(reply) {
						if q, ok := exec.Query(qid); ok {
							qlog.WithComponent("qserv-czar").Warn().
								Int64("query", int64(qid)).Str("worker", string(w)).
								Msg("worker flagged query for cancellation; squashing")
							exec.Squash(q)
						}
					}
					if last, found, _ := store.WorkerEpoch(w); !found || last != reply.WorkerEpoch {
						_ = store.RecordWorkerEpoch(w, reply.WorkerEpoch)
					}
				}
			}
		}()
	}
}

// runHealthMonitor starts C14 against every configured worker, evicting at
// most one silent worker per round by reassigning its outstanding
// uber-jobs.
func runHealthMonitor(ctx context.Context, cfg config.CzarConfig, exec *qdisp.Executive) {
	monitor := health.NewMonitor(cfg.Health.ResponseTimeoutSec, cfg.Health.EvictTimeoutSec)
	targets := make(map[ids.WorkerID]health.ProbeTargets, len(cfg.Workers))
	for workerID, addr := range cfg.Workers {
		targets[ids.WorkerID(workerID)] = health.ProbeTargets{
			QueryURL:        addr + "/status/results",
			ReplicationAddr: strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://"),
		}
	}
	go monitor.Run(ctx, targets, time.Duration(cfg.Health.ResponseTimeoutSec)*time.Second, func(w ids.WorkerID) {
		qlog.WithComponent("qserv-czar").Warn().Str("worker", string(w)).Msg("evicting silent worker")
		exec.EvictWorker(w)
	})
}

func init() {
	startCmd.Flags().String("czar-id", "czar-1", "Unique czar id")
	startCmd.Flags().String("config", "", "Path to czar config YAML (defaults applied when omitted)")
	startCmd.Flags().String("data-dir", "./qserv-czar-data", "Durable store directory (worker-epoch/GC-watermark records)")
	startCmd.Flags().String("listen", "127.0.0.1:26000", "Address for the queryjob-ready/queryjob-error callback endpoints")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address for the Prometheus /metrics endpoint")
}
