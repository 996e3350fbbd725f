package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"meshchat/internal/admin"
	"meshchat/internal/config"
	"meshchat/internal/daemon"
	"meshchat/internal/logging"
	"meshchat/internal/proto"
	"meshchat/internal/relay"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("meshchatd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "QUIC listen address (overrides config)")
	adminListen := fs.String("admin", "", "admin HTTP address (overrides config)")
	nick := fs.String("nick", "", "display name (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	// A .env next to the binary feeds the MESHCHAT_* overrides.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *adminListen != "" {
		cfg.AdminListen = *adminListen
	}
	if *nick != "" {
		cfg.Nick = *nick
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	runner, err := daemon.New(cfg, logger, daemon.Options{
		Deliver: printDeliver(stdout),
	})
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adminSrv := admin.New(runner.Engine(), runner.Transport(), runner.Book(), logger.Named("admin"))
	go func() {
		if err := adminSrv.ListenAndServe(cfg.AdminListen); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", zap.Error(err))
			stop()
		}
	}()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("node stopped", zap.Error(err))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// printDeliver writes locally addressed messages to stdout. A richer
// frontend would attach over the admin API instead.
func printDeliver(w io.Writer) relay.DeliverFunc {
	return func(kind proto.Kind, target string, plaintext []byte) {
		fmt.Fprintf(w, "[%s] %s: %s\n", kind, target, plaintext)
	}
}
