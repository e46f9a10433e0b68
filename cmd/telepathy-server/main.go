package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kapu/telepathy-go/internal/auth"
	"github.com/kapu/telepathy-go/internal/gateway"
	"github.com/kapu/telepathy-go/internal/invite"
	"github.com/kapu/telepathy-go/internal/msgcat"
	"github.com/kapu/telepathy-go/internal/obslog"
	"github.com/kapu/telepathy-go/internal/round"
	"github.com/kapu/telepathy-go/internal/session"
	"github.com/kapu/telepathy-go/internal/users"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func serve(ctx context.Context, cfg *Config) error {
	if cfg.verbose && os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", "debug")
	}
	if err := obslog.InitFromEnv(); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	gateway.Version = releaseVersion

	redisOpts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	catalog, err := msgcat.New(os.Getenv("TELEPATHY_MESSAGE_DIR"))
	if err != nil {
		return fmt.Errorf("load message catalog: %w", err)
	}
	invites := invite.NewService(invite.NewStore(rdb, cfg.inviteTTL), invite.LogNotifier{}, catalog)

	var dir users.Directory = users.NopDirectory{}
	if cfg.databaseURL != "" {
		repo, err := users.NewRepository(cfg.databaseURL)
		if err != nil {
			return fmt.Errorf("open user directory: %w", err)
		}
		dir = repo
	}
	defer dir.Close()

	var verifier auth.Verifier
	if cfg.authVerifyURL != "" {
		verifier = auth.NewHTTPVerifier(cfg.authVerifyURL)
	} else {
		obslog.L().Warn("auth_insecure_mode")
		verifier = auth.InsecureVerifier{}
	}

	srv := gateway.NewServer(verifier, dir, invites)
	reg := session.NewRegistry(srv, session.WithIdleWindow(cfg.idleWindow))
	coord := round.NewCoordinator(srv, reg, round.WithAdvanceDelay(cfg.advanceDelay))
	reg.AttachCoordinator(coord)
	srv.Attach(reg, coord)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	reg.StartReaper(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.bind, cfg.port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("server_listen",
			zap.String("addr", addr),
			zap.String("scheme", cfg.scheme()),
			zap.String("version", releaseVersion),
		)
		var err error
		if cfg.tlsCert != "" {
			err = httpSrv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	obslog.L().Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
