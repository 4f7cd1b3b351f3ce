package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/mariadb"
	"github.com/qserv/qserv-go/internal/memman"
	"github.com/qserv/qserv-go/internal/qstore"
	"github.com/qserv/qserv-go/internal/wbase"
	"github.com/qserv/qserv-go/internal/wbase/gc"
	"github.com/qserv/qserv-go/internal/wcontrol"
	"github.com/qserv/qserv-go/internal/wsched"
	"github.com/qserv/qserv-go/pkg/config"
	"github.com/qserv/qserv-go/pkg/qlog"
	"github.com/qserv/qserv-go/pkg/qmetrics"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker node",
	Long:  `Start the worker's shared-scan lanes, query runner, and HTTP endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workerID, _ := cmd.Flags().GetString("worker-id")
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := config.DefaultWorkerConfig()
		if configPath != "" {
			var err error
			cfg, err = config.LoadWorkerConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		resultDir := cfg.Results.DirName
		if err := os.MkdirAll(resultDir, 0o755); err != nil {
			return fmt.Errorf("create result dir: %w", err)
		}

		store, err := qstore.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
		defer store.Close()

		lastCzarID, lastCzarEpoch, haveSeenCzar, err := store.LastCzarEpoch()
		if err != nil {
			return fmt.Errorf("read last-seen czar epoch: %w", err)
		}
		epoch := ids.Epoch(time.Now().UnixNano())

		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.MySQL.Username, cfg.MySQL.Password, cfg.MySQL.Hostname, cfg.MySQL.Port, cfg.MySQL.DB)
		pool, err := mariadb.Open(mariadb.Config{
			DSN:             dsn,
			MaxOpenConns:    cfg.SQLConnections.MaxSQLConn,
			MaxIdleConns:    cfg.SQLConnections.MaxSQLConn,
			ConnMaxLifetime: time.Hour,
		})
		if err != nil {
			return fmt.Errorf("open mariadb pool: %w", err)
		}
		defer pool.Close()

		// No CSS metadata catalog is implemented (spec.md §1 external
		// collaborator), so table sizes are unknown ahead of time; every
		// table is reserved at zero bytes.
		memMgr := memman.New(int64(cfg.MemMan.MemoryMB)*1024*1024, func(db, table string) int64 { return 0 })

		tablesFunc := func(chunk ids.ChunkID, tasks []*wsched.Task) []memman.TableRef {
			seen := make(map[string]bool)
			var refs []memman.TableRef
			for _, t := range tasks {
				for _, st := range t.ScanTables {
					key := st.DB + "." + st.Table
					if seen[key] {
						continue
					}
					seen[key] = true
					intent := memman.Flexible
					if st.LockInMemory {
						intent = memman.Required
					}
					refs = append(refs, memman.TableRef{DB: st.DB, Table: st.Table, Intent: intent})
				}
			}
			return refs
		}

		lanes := []*wsched.ScanScheduler{
			wsched.NewScanScheduler(laneConfig("fast", cfg.Scheduler, cfg.Scheduler.Fast, 1, 1), memMgr, tablesFunc),
			wsched.NewScanScheduler(laneConfig("medium", cfg.Scheduler, cfg.Scheduler.Medium, 2, 2), memMgr, tablesFunc),
			wsched.NewScanScheduler(laneConfig("slow", cfg.Scheduler, cfg.Scheduler.Slow, 3, 3), memMgr, tablesFunc),
			wsched.NewScanScheduler(laneConfig("snail", cfg.Scheduler, cfg.Scheduler.Snail, 4, 4), memMgr, tablesFunc),
		}
		blend := wsched.NewBlendScheduler(lanes, wsched.BootConfig{
			RequiredTasksCompleted:     cfg.Scheduler.RequiredTasksCompleted,
			MaxConcurrentBootedTasks:   cfg.Scheduler.MaxConcurrentBootedTasks,
			MaxTasksBootedPerUserQuery: cfg.Scheduler.MaxTasksBootedPerUserQuery,
		})

		runner := wbase.NewRunner(wbase.Config{
			ResultDir: resultDir,
		}, pool, memMgr)

		collector := gc.New(resultDir)
		if cfg.Results.CleanUpOnStart {
			if err := gc.SweepOrphans(resultDir); err != nil {
				qlog.WithComponent("qserv-worker").Warn().Err(err).Msg("startup result-file sweep failed")
			}
		}

		server := wcontrol.NewServer(blend, runner, collector, resultDir, ids.WorkerID(workerID), epoch, haveSeenCzar, lastCzarID, lastCzarEpoch)
		blend.SetCancellationFlagger(server.FlagForCancellation)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		blend.Run(ctx, func(t *wsched.Task) {
			go func() {
				lane := blend.LaneFor(t)
				defer lane.CommandFinish(t)
				defer blend.RecordTaskFinish(t)
				if err := runner.Run(ctx, t); err != nil {
					qlog.WithComponent("qserv-worker").Warn().Err(err).
						Int64("query", int64(t.Query)).Int64("job", int64(t.Job)).Msg("task execution failed")
				}
			}()
		}, time.Duration(cfg.Scheduler.ExamineIntervalSec)*time.Second)
		defer blend.Stop()

		httpServer := server.NewHTTPServer(listenAddr)
		go func() {
			qlog.WithComponent("qserv-worker").Info().Str("addr", listenAddr).Msg("serving C7 endpoints")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				qlog.WithComponent("qserv-worker").Error().Err(err).Msg("http server error")
			}
		}()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", qmetrics.Handler())
			qlog.WithComponent("qserv-worker").Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				qlog.WithComponent("qserv-worker").Error().Err(err).Msg("metrics server error")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		qlog.WithComponent("qserv-worker").Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	},
}

func laneConfig(name string, sched config.Scheduler, lane config.SchedulerLane, minRating, maxRating int) wsched.LaneConfig {
	maxThreads := sched.ThreadPoolSize
	if lane.MaxActiveChunks > 0 && sched.ThreadPoolSize > lane.MaxActiveChunks {
		maxThreads = lane.MaxActiveChunks * 2
	}
	return wsched.LaneConfig{
		Name:            name,
		MaxThreads:      maxThreads,
		MaxReserve:      lane.Reserve,
		Priority:        lane.Priority,
		MaxActiveChunks: lane.MaxActiveChunks,
		MinScanRating:   minRating,
		MaxScanRating:   maxRating,
		MaxTimeMinutes:  lane.ScanMaxMinutes,
	}
}

func init() {
	startCmd.Flags().String("worker-id", "worker-1", "Unique worker id")
	startCmd.Flags().String("config", "", "Path to worker config YAML (defaults applied when omitted)")
	startCmd.Flags().String("data-dir", "./qserv-worker-data", "Durable store directory (czar-epoch record)")
	startCmd.Flags().String("listen", "127.0.0.1:25000", "Address for the C7 status/command endpoint")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics endpoint")
}
