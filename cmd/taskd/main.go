// ABOUTME: taskd is a small reference server for the tasks sync engine.
// ABOUTME: Serves task CRUD, profile and health over JSON with bearer-token auth.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskd",
		Short:         "Serve tasks over HTTP for the offline sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.String("db", "taskd.db", "sqlite database path")
	f.StringSlice("token", nil, "owner=secret pair accepted as a bearer token (repeatable)")
	f.String("log-level", "info", "log level")
	f.Bool("trust-proxy", false, "take client IPs from X-Forwarded-For / X-Real-IP")
	f.Duration("rate-interval", DefaultRateLimitConfig().Interval, "time between requests per owner (0 disables)")
	f.Int("rate-burst", DefaultRateLimitConfig().Burst, "request burst per owner")

	v.SetEnvPrefix("TASKD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(f)
	return cmd
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(v.GetString("log-level")); err == nil {
		log.SetLevel(lvl)
	}

	tokens, err := parseTokens(v.GetStringSlice("token"))
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return errors.New("at least one --token owner=secret is required")
	}

	store, err := openTaskStore(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	srv := newServer(store, tokens, log)
	srv.trustProxy = v.GetBool("trust-proxy")
	srv.limiters.setConfig(RateLimitConfig{Interval: v.GetDuration("rate-interval"), Burst: v.GetInt("rate-burst")})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv.startCleanupRoutine(ctx)

	hs := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", hs.Addr).Info("taskd listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return hs.Shutdown(shutdownCtx)
}

// parseTokens turns owner=secret pairs into a hashed-token lookup table.
func parseTokens(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		owner, secret, found := strings.Cut(p, "=")
		owner, secret = strings.TrimSpace(owner), strings.TrimSpace(secret)
		if !found || owner == "" || secret == "" {
			return nil, fmt.Errorf("invalid token %q: want owner=secret", p)
		}
		out[hashToken(secret)] = owner
	}
	return out, nil
}
