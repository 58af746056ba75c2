// Команда provider-sync выполняет один прогон сверки заказов с провайдерами
// без запуска HTTP и gRPC серверов. Конфигурация берётся из тех же SMM_*
// переменных окружения, что и у sync-service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/app"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

const dispatcherCloseTimeout = 5 * time.Second

var errNothingToSync = errors.New("either -orders or -all is required")

func parseRequest(args []string) (reconcile.Request, error) {
	var (
		orders   string
		syncAll  bool
		provider string
		budget   time.Duration
		maxCount int
	)

	fs := flag.NewFlagSet("provider-sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&orders, "orders", "", "comma separated order ids")
	fs.BoolVar(&syncAll, "all", false, "sync every order in a non-final status")
	fs.StringVar(&provider, "provider", "", "restrict the run to one provider id")
	fs.DurationVar(&budget, "budget", 0, "time budget for the run (0 = configured default)")
	fs.IntVar(&maxCount, "max", 0, "max orders per run (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return reconcile.Request{}, err
	}
	if budget < 0 || maxCount < 0 {
		return reconcile.Request{}, fmt.Errorf("-budget and -max must be >= 0")
	}

	req := reconcile.Request{
		SyncAll:    syncAll,
		ProviderID: strings.TrimSpace(provider),
		TimeBudget: budget,
		MaxOrders:  maxCount,
	}
	if !syncAll {
		for _, id := range strings.Split(orders, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.OrderIDs = append(req.OrderIDs, id)
			}
		}
		if len(req.OrderIDs) == 0 {
			return reconcile.Request{}, errNothingToSync
		}
	}
	return req, nil
}

func run(ctx context.Context, args []string, lookup app.EnvLookup, out io.Writer) error {
	req, err := parseRequest(args)
	if err != nil {
		return err
	}

	cfg, warnings := app.ConfigFromEnv(lookup)
	logger := log.WithField("component", "provider-sync")
	for _, w := range warnings {
		logger.Warnf("ignoring invalid config value: %s", w)
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	go deps.Dispatcher.Run(context.WithoutCancel(ctx))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), dispatcherCloseTimeout)
		defer cancel()
		if err := deps.Dispatcher.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("event dispatcher did not drain in time")
		}
	}()

	summary, err := deps.Orchestrator.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("sync run: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
