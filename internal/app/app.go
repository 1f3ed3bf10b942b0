package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/stakematch/internal/chain"
	"example.com/stakematch/internal/config"
	"example.com/stakematch/internal/contracts"
	"example.com/stakematch/internal/countdown"
	"example.com/stakematch/internal/game"
	"example.com/stakematch/internal/httpapi"
	"example.com/stakematch/internal/reconcile"
	"example.com/stakematch/internal/store"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db     *pgxpool.Pool
	rdb    *redis.Client
	chainc *chain.Client

	reconciler *reconcile.Reconciler
	srv        *http.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	// --- Chain ---
	chainc, err := chain.Dial(ctx, chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		ControllerKey:  cfg.Chain.ControllerKey,
		MatchFactory:   cfg.Chain.MatchFactoryAddr,
		ScoreFactory:   cfg.Chain.ScoreFactoryAddr,
		CallTimeout:    cfg.Chain.CallTimeout,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
		MaxRetries:     cfg.Chain.MaxRetries,
	}, log)
	if err != nil {
		return nil, err
	}

	// --- Postgres ---
	dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		chainc.Close()
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	// Quick connectivity checks (fail fast).
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		chainc.Close()
		dbpool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		chainc.Close()
		dbpool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
	}

	// --- Registry ---
	registry, err := contracts.Open(cfg.Registry.Path)
	if err != nil {
		chainc.Close()
		dbpool.Close()
		_ = rdb.Close()
		return nil, err
	}

	// --- Stores & services ---
	results := store.NewResultStore(dbpool)
	persist := game.NewRedisGameStore(rdb, cfg.Redis.GameTTL)

	gameSvc := game.NewService(game.ServiceConfig{
		MoveTimeout:         cfg.Game.MoveTimeout,
		FinalizeDeleteDelay: cfg.Game.FinalizeDeleteDelay,
	}, persist, chainc, results, log)
	gameSvc.AttachScoreBoard(chainc, func() (string, bool) {
		return registry.Get(cfg.Chain.ChainID, "scoreBoard")
	})
	gameSrv := game.NewServer(gameSvc, chainc, log)

	countdownSvc := countdown.NewService(cfg.Game.ActivationCountdown, chainc, chainc, log)

	// --- Handlers ---
	countdownH := &httpapi.CountdownHandler{Countdowns: countdownSvc, Log: log}
	resultsH := &httpapi.ResultsHandler{Results: results, Log: log}
	adminH := &httpapi.AdminHandler{
		Secret:       []byte(cfg.Auth.Secret),
		PasswordHash: cfg.Auth.AdminPasswordHash,
		TokenTTL:     cfg.Auth.TokenTTL,
		ChainID:      cfg.Chain.ChainID,
		Registry:     registry,
		Deployer:     chainc,
		Writer:       chainc,
		Games:        gameSvc,
		Log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gameSrv.RegisterRoutes(mux)

	mux.HandleFunc("/api/countdown/status", countdownH.Status)
	mux.HandleFunc("/api/countdown/cancel", countdownH.Cancel)
	mux.HandleFunc("/api/results", resultsH.Tally)
	mux.HandleFunc("/api/contracts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			adminH.GetContracts(w, r)
			return
		}
		httpapi.AdminAuth([]byte(cfg.Auth.Secret))(http.HandlerFunc(adminH.SetContract)).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/admin/login", adminH.Login)

	adminOnly := httpapi.AdminAuth([]byte(cfg.Auth.Secret))
	mux.Handle("/api/deploy/game-match", adminOnly(http.HandlerFunc(adminH.DeployGameMatch)))
	mux.Handle("/api/deploy/game-score", adminOnly(http.HandlerFunc(adminH.DeployScoreBoard)))
	mux.Handle("/api/match/activate", adminOnly(http.HandlerFunc(adminH.Activate)))
	mux.Handle("/api/match/finalize", adminOnly(http.HandlerFunc(adminH.Finalize)))

	handler := httpapi.RequestID(log)(mux)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	reconciler := reconcile.New(gameSvc, countdownSvc, cfg.Game.ReconcileInterval, log)

	return &App{
		cfg:        cfg,
		log:        log,
		db:         dbpool,
		rdb:        rdb,
		chainc:     chainc,
		reconciler: reconciler,
		srv:        srv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.reconciler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.chainc != nil {
		a.chainc.Close()
	}
	return nil
}
