package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/authclient"
	appcfg "github.com/marsdevs/chess-arena/internal/config"
	"github.com/marsdevs/chess-arena/internal/hub"
	"github.com/marsdevs/chess-arena/internal/invite"
	"github.com/marsdevs/chess-arena/internal/match"
	"github.com/marsdevs/chess-arena/internal/msgcat"
	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/oracle"
	"github.com/marsdevs/chess-arena/internal/registry"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/internal/transport/rest"
	"github.com/marsdevs/chess-arena/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}

	redisStore, err := store.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}

	var (
		archive *store.Archive
		ledger  store.Ledger
	)
	if cfg.DatabaseURL != "" {
		archive, err = store.NewArchive(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		ledger = store.NewLedgerFromArchive(archive)
	} else {
		obslog.L().Warn("DATABASE_URL not set, match archive and coin ledger disabled")
	}

	engine, err := oracle.NewUCIEngine(cfg.StockfishPath)
	if err != nil {
		log.Fatalf("engine init error: %v", err)
	}

	messages, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	matchHub := hub.New(redisStore)

	deps := match.Deps{
		Store:         redisStore,
		Ledger:        ledger,
		Oracle:        engine,
		Pub:           matchHub,
		OracleRetries: uint(cfg.BotMoveRetries),
	}
	if archive != nil {
		deps.Archive = archive
	}
	reg := registry.New(deps, time.Duration(cfg.TimerTickMs)*time.Millisecond, cfg.MaxLiveSessions)

	var auth authclient.Resolver
	if cfg.AuthBaseURL != "" {
		auth = authclient.NewClient(cfg.AuthBaseURL)
	} else {
		obslog.L().Warn("AUTH_BASE_URL not set, accepting tokens as user ids")
		auth = devResolver{}
	}

	router := rest.NewRouter(&rest.Container{
		Matches:     redisStore,
		Invites:     invite.NewManager(redisStore, redisStore).WithClockBudget(cfg.ClockBudgetSec),
		Registry:    reg,
		Auth:        auth,
		WS:          ws.NewHandler(matchHub, reg, auth, messages),
		ClockBudget: cfg.ClockBudgetSec,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // sockets stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		obslog.L().Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = engine.Close()
	_ = redisStore.Close()
	if archive != nil {
		_ = archive.Close()
	}
}

// devResolver trusts the raw token as a user id. Local runs only.
type devResolver struct{}

func (devResolver) Resolve(_ context.Context, token string) (*authclient.Identity, error) {
	if token == "" {
		return nil, authclient.ErrUnauthenticated
	}
	return &authclient.Identity{ID: token, Username: token}, nil
}
