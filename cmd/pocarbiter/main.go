// Command pocarbiter runs the mining-proxy arbitration engine: it polls
// every configured chain for new mining rounds, arbitrates which one a
// miner should work on, and forwards accepted nonce submissions
// upstream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pocnet/arbiter/arbiter"
	"github.com/pocnet/arbiter/capacity"
	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/config"
	"github.com/pocnet/arbiter/log"
	"github.com/pocnet/arbiter/metrics"
	"github.com/pocnet/arbiter/poller"
	"github.com/pocnet/arbiter/server"
	"github.com/pocnet/arbiter/state"
	"github.com/pocnet/arbiter/submit"
	"github.com/pocnet/arbiter/supervisor"
	"github.com/pocnet/arbiter/sweeper"
	"github.com/pocnet/arbiter/wsclient"
)

func main() {
	app := &cli.App{
		Name:  "pocarbiter",
		Usage: "arbitrate and forward proof-of-capacity mining between chains",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yaml", Usage: "path to config.yaml"},
			&cli.StringFlag{Name: "log.level", Value: "info"},
			&cli.StringFlag{Name: "log.file", Value: ""},
			&cli.BoolFlag{Name: "log.json", Value: false},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	logger := buildLogger(cctx)
	log.SetDefault(logger)

	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}

	reg, err := chain.NewRegistry(cfg.Descriptors(), cfg.PriorityMode)
	if err != nil {
		return err
	}

	capTracker := capacity.New(cfg.MinerUpdateTimeout(), cfg.InitialPlotSizeTiB)
	store := state.New(reg.Len(), cfg.BestDeadlineRetention)
	defer store.Close()

	metricsReg := metrics.New()
	arb := arbiter.New(reg, store, cfg.PriorityMode, cfg.InterruptLowerPriority, cfg.GracePeriod(), cfg.StartupDelay(), logger, metricsReg)
	sw := sweeper.New(arb)
	engine := submit.New(reg, store, capTracker, logger, cfg.UserAgent, cfg.MaskAccountIDsInConsole, metricsReg)

	sup := supervisor.New(logger)
	var tasks []supervisor.Task
	tasks = append(tasks, supervisor.Task{Name: "sweeper", Run: sw.Run})

	for _, entry := range reg.Enumerate() {
		entry := entry
		if entry.Desc.IsHDPool {
			sess := wsclient.New(entry.Index, entry.Desc, arb, capTracker, logger)
			engine.RegisterWS(entry.Index, sess)
			tasks = append(tasks, supervisor.Task{Name: "ws:" + entry.Desc.Name, Run: sess.Run})
			continue
		}
		p := poller.New(entry.Index, entry.Desc, arb, capTracker, logger, cfg.UserAgent, metricsReg)
		tasks = append(tasks, supervisor.Task{Name: "poll:" + entry.Desc.Name, Run: p.Run})
	}

	srv := server.New(store, engine, capTracker, logger)
	mux := http.NewServeMux()
	mux.Handle("/burst", srv.Handler())
	mux.Handle("/metrics", metricsReg.Handler())
	httpServer := &http.Server{Addr: cfg.ListenAddress, Handler: mux}
	tasks = append(tasks, supervisor.Task{Name: "http", Run: func(stop <-chan struct{}) {
		go func() {
			<-stop
			httpServer.Close()
		}()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", "err", err)
		}
	}})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("pocarbiter starting", "chains", reg.Len(), "listen", cfg.ListenAddress)
	return sup.Run(ctx, tasks)
}

func buildLogger(cctx *cli.Context) log.Logger {
	console := log.NewTerminalHandler(os.Stderr, false)
	if cctx.Bool("log.json") {
		console = log.JSONHandler(os.Stderr)
	}
	if path := cctx.String("log.file"); path != "" {
		file := log.NewFileHandler(path, 100, 5, 28)
		return log.NewLogger(log.MultiHandler{Handlers: []slog.Handler{console, file}})
	}
	return log.NewLogger(console)
}
