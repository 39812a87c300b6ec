package main

import (
	"context"
	"fmt"
	"net/smtp"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/johnsto/go-passwordless/v3"
	"github.com/johnsto/go-passwordless/v3/internal/config"
	"github.com/johnsto/go-passwordless/v3/internal/logging"
	"github.com/johnsto/go-passwordless/v3/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	displayAppname(cfg.AppName)

	store := newStore(cfg)
	defer store.Release()

	users := passwordless.UserLookup(passwordless.AnyUser{})
	if list := cfg.UserList(); len(list) > 0 {
		users = passwordless.NewStaticUsers(list...)
	}

	pw, err := passwordless.New(store, newTransport(cfg), users,
		passwordless.WithTTL(cfg.TokenTTL),
		passwordless.WithTokenByteLength(cfg.TokenByteLength),
		passwordless.WithRedeemBaseURL(cfg.RedeemBaseURL),
		passwordless.WithHooks(passwordless.Hooks{
			OnFailed: func(ctx context.Context, reason passwordless.FailureReason, err error) {
				zerolog.Ctx(ctx).Debug().Str("reason", string(reason)).Msg("redeem failed")
			},
		}),
	)
	if err != nil {
		return fmt.Errorf("passwordless.New: %w", err)
	}
	defer pw.Wait()

	secure := false
	if u, err := url.Parse(cfg.RedeemBaseURL); err == nil && u.Scheme == "https" {
		secure = true
	}
	sessions, err := server.NewSessionStore(cfg.SessionAuthKey, cfg.SessionEncryptionKey,
		cfg.SessionMaxAge, secure)
	if err != nil {
		return err
	}
	if cfg.SessionAuthKey == "" {
		logger.Warn().Msg("SESSION_AUTH_KEY not set, sessions will not survive a restart")
	}

	limiter, err := server.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	if err != nil {
		return err
	}

	proxies, err := cfg.TrustedProxyNets()
	if err != nil {
		return err
	}
	srv := server.New(pw, sessions, limiter, logger, server.WithTrustedProxies(proxies...))
	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start(cfg.Addr())
	}()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func newStore(cfg *config.Config) passwordless.TokenStore {
	if cfg.StoreKind == config.StoreCache {
		return passwordless.NewCacheStore(cfg.StoreCapacity, cfg.CleanupInterval, nil)
	}
	return passwordless.NewMemStore(cfg.CleanupInterval,
		passwordless.WithCapacity(cfg.StoreCapacity))
}

func newTransport(cfg *config.Config) passwordless.Transport {
	if cfg.Transport != config.TransportSMTP {
		// Development only: the link itself goes to the debug log
		return passwordless.LogTransport{
			MessageFunc: func(d passwordless.Delivery) string {
				return "sign in link: " + d.RedeemURL
			},
		}
	}
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		host := cfg.SMTPAddr
		if u, err := url.Parse("smtp://" + cfg.SMTPAddr); err == nil {
			host = u.Hostname()
		}
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
	}
	t := passwordless.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPFrom, auth,
		passwordless.DefaultComposer(cfg.SMTPFrom, cfg.SMTPSubject))
	t.UseSSL = cfg.SMTPUseSSL
	return t
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "", true)
	myFigure.Print()
	fmt.Println()
}
