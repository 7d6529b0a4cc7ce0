package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"capitania.club/internal/backend"
	"capitania.club/internal/config"
	"capitania.club/internal/fixtures"
	"capitania.club/internal/httpapi"
	"capitania.club/internal/identity"
	"capitania.club/internal/member"
	"capitania.club/internal/members"
	"capitania.club/internal/obs"
	"capitania.club/internal/policy"
	"capitania.club/internal/store/memory"
	"capitania.club/internal/store/pg"
	"capitania.club/internal/stream"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version string
	commit  string
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		obs.Logger().Fatal("config", "err", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		obs.Logger().Fatal("config", "err", err)
	}
	log := obs.Setup(obs.LogConfig{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	obs.Init()
	build := obs.ReadBuild(version, commit)
	obs.InitBuildInfo(build)

	changes := stream.NewHub[backend.Change](64)
	defer changes.Close()

	var (
		store member.Store
		probe httpapi.ReadyProbe
	)
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		store = memory.New(changes)
	default:
		pgStore, err := pg.Open(cfg.Database.DSN, pg.WithNotifier(changes), pg.WithMaxOpenConns(cfg.Database.MaxOpenConns))
		if err != nil {
			log.Fatal("open db", "err", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	}

	tokens, err := identity.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal("tokens", "err", err)
	}
	ids := identity.NewService(store, tokens, identity.WithLogger(log))
	pol := policy.New(policy.Context{MasterEmail: cfg.Auth.MasterEmail})
	mem := members.NewService(store, ids, pol, cfg.Auth.TemporaryPassword, members.WithLogger(log))

	var fx httpapi.FixtureSource
	if cfg.Fixtures.APIKey != "" {
		fx = fixtures.New(fixtures.Config{
			BaseURL:  cfg.Fixtures.BaseURL,
			Host:     cfg.Fixtures.Host,
			APIKey:   cfg.Fixtures.APIKey,
			TeamID:   cfg.Fixtures.TeamID,
			CacheTTL: cfg.Fixtures.CacheTTL,
			Timeout:  cfg.Fixtures.Timeout,
			Logger:   log,
		})
	} else {
		log.Info("fixtures disabled: no API key configured")
	}

	api := httpapi.New(httpapi.Config{
		Identity:       ids,
		Members:        mem,
		Profiles:       store,
		Changes:        changes,
		Fixtures:       fx,
		Probe:          probe,
		Version:        build.Version,
		Logger:         log,
		FailOpen:       cfg.Gate.FailOpen,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateBurst:      cfg.Server.RateLimitBurst,
		RatePerSec:     cfg.Server.RateLimitRPS,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Zero so the change stream is not cut off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting capitania-api", "version", build.Version, "commit", build.Commit, "addr", srv.Addr, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Server.GRPCAddr != "" {
		health := httpapi.NewHealthServer(probe, log)
		grpcSrv := grpc.NewServer()
		health.Register(grpcSrv)
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatal("grpc listen", "err", err)
		}
		g.Go(func() error {
			log.Info("starting grpc health", "addr", cfg.Server.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			health.Run(gctx, 10*time.Second)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Streams end when the hub closes.
		changes.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
	log.Info("stopped")
}
