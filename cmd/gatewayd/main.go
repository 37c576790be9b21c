package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/shellgate/internal/audit"
	"github.com/ehrlich-b/shellgate/internal/authn"
	"github.com/ehrlich-b/shellgate/internal/config"
	"github.com/ehrlich-b/shellgate/internal/gateway"
	"github.com/ehrlich-b/shellgate/internal/logger"
	"github.com/ehrlich-b/shellgate/internal/ratelimit"
	"github.com/ehrlich-b/shellgate/internal/session"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "shellgate PTY gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to gateway.yaml (default: ~/.shellgate/gateway.yaml)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolve default config path: %w", err)
		}
		configPath = p
	}

	watcher, err := config.WatchSecurity(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer watcher.Close()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var auther *authn.Authenticator
	if watcher.Security().Auth.Enabled {
		auther, err = buildAuthenticator(watcher.Security().Auth)
		if err != nil {
			return fmt.Errorf("build authenticator: %w", err)
		}
	}

	var rateLimiter *ratelimit.Limiter
	if rl := watcher.Security().RateLimit; rl.Enabled {
		rateLimiter = ratelimit.New(rl.RequestsPerWindow, rl.WindowSecs)
	}

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
	}

	store := session.New(cfg.IdleTTL(), cfg.ReaperPeriod(), logger.Log)
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go store.RunReaper(reaperCtx)

	srv := gateway.New(store, auther, rateLimiter, auditLog, cfg.DefaultTimeout())
	srv.DebugCapturePath = cfg.Session.DebugCapturePath
	srv.MaxCommandBytes = cfg.Session.MaxCommandBytes

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Handler(),
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gatewayd listening", "addr", cfg.Server.Addr())
		if cfg.Server.TLSCert != "" {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
			return
		}
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-sigCtx.Done():
		logger.Info("shutting down")
		return gracefulShutdown(httpSrv, store, cfg.Server.GracefulShutdown)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// gracefulShutdown stops accepting new connections, gives in-flight
// requests 5s to finish, then tears down every live session, per
// spec.md §5's shutdown sequence. If graceful is false (server.graceful_shutdown:
// false in config), it closes the listener immediately instead of draining.
func gracefulShutdown(httpSrv *http.Server, store *session.Store, graceful bool) error {
	if !graceful {
		httpSrv.Close()
		store.Shutdown()
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		httpSrv.Close()
	}
	store.Shutdown()
	return nil
}

func buildAuthenticator(auth config.AuthConfig) (*authn.Authenticator, error) {
	keys := make([]authn.APIKey, 0, len(auth.APIKeys))
	for _, k := range auth.APIKeys {
		keys = append(keys, authn.APIKey{Label: k.Label, Hash: []byte(k.Hash)})
	}

	var jwtPub *ecdsa.PublicKey
	if auth.JWT != nil && auth.JWT.PublicKey != "" {
		der, err := base64.StdEncoding.DecodeString(auth.JWT.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode jwt public key: %w", err)
		}
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("jwt public key is not ECDSA")
		}
		jwtPub = ecPub
	}

	return authn.New(keys, jwtPub), nil
}
