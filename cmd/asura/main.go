// Asura AI dispatch service entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kenjoel/asura-ai/internal/api"
	"github.com/kenjoel/asura-ai/internal/app"
	"github.com/kenjoel/asura-ai/internal/domain/audit"
	"github.com/kenjoel/asura-ai/internal/infra/config"
	"github.com/kenjoel/asura-ai/internal/infra/credentials"
	"github.com/kenjoel/asura-ai/internal/infra/eventbus"
	"github.com/kenjoel/asura-ai/internal/infra/sqlite"
	"github.com/kenjoel/asura-ai/internal/server"
	"github.com/kenjoel/asura-ai/internal/version"
)

func main() {
	configPath := flag.String("config", "asura.yaml", "path to the YAML config file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		db.Close()
		return fmt.Errorf("migrate database: %w", err)
	}

	registry, err := app.BuildRegistry(cfg, credentials.EnvResolver{})
	if err != nil {
		db.Close()
		return err
	}

	bus := eventbus.New()
	dispatcher := app.BuildDispatcher(cfg, registry, bus)
	auditService := audit.NewService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go audit.ConsumeTaskEvents(ctx, bus, auditService)

	handler := api.NewRouter(api.Deps{
		Dispatcher: dispatcher,
		Registry:   registry,
		Audit:      auditService,
		APIKeyHash: cfg.Auth.APIKeyHash,
		TokenTTL:   time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
	})

	serverCfg := server.DefaultConfig()
	serverCfg.Addr = cfg.Server.Addr
	srv := server.NewServer(handler, db, serverCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	}

	// Abort in-flight backend calls before draining connections.
	dispatcher.CancelAllRequests()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
