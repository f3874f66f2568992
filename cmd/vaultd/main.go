package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"merchantvault/config"
	"merchantvault/native/vault"
	"merchantvault/observability/logging"
	"merchantvault/observability/otel"
	"merchantvault/rpc"
	"merchantvault/state"
	"merchantvault/storage"
)

func main() {
	configPath := flag.String("config", "./vaultd.toml", "path to the vaultd configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("vaultd", "", "").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.Setup("vaultd", cfg.Environment, cfg.LogFile)

	authority, haveAuthority, err := cfg.AuthorityAddress()
	if err != nil {
		log.Error("invalid authority address", "error", err)
		os.Exit(1)
	}
	if !haveAuthority {
		log.Error("no Authority configured; a vault deployment needs an administrative identity")
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault"))
	if err != nil {
		log.Error("failed to open database", "error", err, "dataDir", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	engine := vault.NewEngine()
	engine.SetState(manager)
	engine.SetGateway(manager)

	vaultKey := state.RegistryKey(authority.Raw())
	if _, _, err := engine.Initialize(authority.Raw()); err != nil {
		if !errors.Is(err, vault.ErrRegistryExists) {
			log.Error("failed to initialize registry", "error", err)
			os.Exit(1)
		}
		log.Info("registry already initialized", "authority", authority.String())
	} else {
		log.Info("registry initialized", "authority", authority.String())
		if cfg.MinDepositNative > 0 || cfg.MinDepositToken > 0 {
			update := vault.ConfigUpdate{}
			if cfg.MinDepositNative > 0 {
				update.MinDepositNative = &cfg.MinDepositNative
			}
			if cfg.MinDepositToken > 0 {
				update.MinDepositToken = &cfg.MinDepositToken
			}
			if _, err := engine.UpdateConfig(vaultKey, authority.Raw(), update); err != nil {
				log.Error("failed to apply deposit minimums", "error", err)
				os.Exit(1)
			}
		}
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := otel.Setup(context.Background(), otel.Config{
			ServiceName: "vaultd",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
		})
		if err != nil {
			log.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	server := rpc.NewServer(engine, vaultKey, log)
	if cfg.RateLimitPerMinute > 0 {
		server.SetRateLimiter(rpc.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, log))
	}

	var handler http.Handler = server.Router()
	if cfg.OTLPEndpoint != "" {
		handler = otelhttp.NewHandler(handler, "vaultd")
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("vaultd listening", "address", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}
}
