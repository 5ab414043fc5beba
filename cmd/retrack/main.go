// Command retrack runs the Retrack process: it loads configuration, wires
// every component (store, scheduler, target executors, revision store,
// action pipeline, task queue, HTTP ingress, metrics), and runs until an
// interrupt or termination signal asks it to drain and exit. The wiring
// order and shutdown sequence mirror the teacher's cli.Runner/RunDaemon
// construction of a dispatcher + scheduler + monitor server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/retrack/retrack/actions"
	"github.com/retrack/retrack/api"
	"github.com/retrack/retrack/config"
	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/logging"
	"github.com/retrack/retrack/metrics"
	"github.com/retrack/retrack/orchestrator"
	"github.com/retrack/retrack/revisionstore"
	"github.com/retrack/retrack/scheduler"
	"github.com/retrack/retrack/scraperclient"
	"github.com/retrack/retrack/sandbox"
	"github.com/retrack/retrack/smtptransport"
	"github.com/retrack/retrack/store"
	"github.com/retrack/retrack/targets"
	"github.com/retrack/retrack/taskqueue"
	"github.com/retrack/retrack/webhooktransport"
)

var version = "dev"

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config.json", "path to JSON configuration file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrack: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrack: init logging: %v\n", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DB)
	if err != nil {
		log.Errorf("retrack: open store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	instanceID := ids.New()
	tickLock := store.NewTickLock(cfg.Redis, db, instanceID)
	defer func() { _ = tickLock.Close() }()

	var metricsSrv *metrics.Server
	var mtr *metrics.Metrics
	if cfg.Metrics.Enabled {
		mtr = metrics.New(nil)
		metricsSrv = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
				log.Warnf("retrack: metrics server stopped: %v", err)
			}
		}()
	}

	sb := sandbox.New(cfg.Sandbox)
	scraper := scraperclient.New(cfg.Components.WebScraperURL)
	apiExec := targets.NewAPIExecutor(sb)
	pageExec := targets.NewPageExecutor(scraper)

	revs := revisionstore.New(db)
	pipeline := actions.New(db, sb)

	sched := scheduler.New(db, db, tickLock, log, scheduler.Config{
		MinScheduleInterval: cfg.Trackers.MinScheduleInterval(),
		Whitelist:           cfg.Trackers.SchedulesWhitelist,
	})

	orch := orchestrator.New(db, sched, db, revs, pipeline, apiExec, pageExec, log)
	sched.OnTick(orch.RunTick)

	dispatcher := taskqueue.New(db, taskqueue.Config{
		Owner:        instanceID,
		PollInterval: time.Duration(cfg.TaskQueue.PollIntervalMs) * time.Millisecond,
		WorkerCount:  cfg.TaskQueue.WorkerCount,
		DefaultRetry: model.RetryStrategy{Kind: model.RetryConstant, IntervalMs: 60_000, MaxAttempts: cfg.TaskQueue.MaxAttemptsDefault},
	}, log)

	smtpTransport, err := smtptransport.New(cfg.SMTP)
	if err != nil {
		log.Errorf("retrack: init smtp transport: %v", err)
		os.Exit(1)
	}
	defer smtpTransport.Close()
	webhookTransport := webhooktransport.New()

	dispatcher.RegisterHandler(model.TaskEmail, taskqueue.EmailHandler(smtpTransport))
	dispatcher.RegisterHandler(model.TaskWebhook, taskqueue.WebhookHandler(webhookTransport))
	dispatcher.RegisterHandler(model.TaskServerLog, taskqueue.ServerLogHandler(log))

	if mtr != nil {
		dispatcher.SetMetrics(mtr)
		pipeline.SetMetrics(mtr)
		orch.SetMetrics(mtr)
		sb.SetMetrics(mtr)
	}

	svc := api.NewService(db, sched, revs, orch, cfg.Trackers.MaxRevisions)
	httpSrv := api.NewServer(fmt.Sprintf(":%d", cfg.Port), svc, svc, version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		log.Errorf("retrack: start scheduler: %v", err)
		os.Exit(1)
	}

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	go func() {
		log.Infof("retrack: http server listening on %d", cfg.Port)
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorf("retrack: http server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("retrack: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sched.Stop()
	<-dispatcherDone
	_ = httpSrv.Stop(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Stop(shutdownCtx)
	}
}
