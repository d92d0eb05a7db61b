package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/assistant"
	"github.com/young1lin/assistsearch/internal/config"
	"github.com/young1lin/assistsearch/internal/handler"
	"github.com/young1lin/assistsearch/internal/runner"
	"github.com/young1lin/assistsearch/internal/search"
	"github.com/young1lin/assistsearch/internal/tools"
	"github.com/young1lin/assistsearch/pkg/logger"
)

var (
	Version   = "dev"
	BuildDate = "unknown"
)

var (
	cfgFile string
	port    int
	showVer bool
)

var rootCmd = &cobra.Command{
	Use:   "assistsearch",
	Short: "Assistant bridge with Google search tool calls",
	Long: `An HTTP bridge that relays prompts to a hosted assistant,
polls each run to completion and answers its search_google
tool calls with Google Custom Search results.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVer {
			fmt.Printf("assistsearch %s (built %s)\n", Version, BuildDate)
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if port > 0 {
			cfg.Server.Port = port
		}

		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		defer logger.Sync()

		if err := cfg.Validate(); err != nil {
			return err
		}

		logger.Info("starting server",
			zap.String("version", Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
		)

		return startServer(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	rootCmd.Flags().BoolVarP(&showVer, "version", "v", false, "show version")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildHandler wires the collaborators together from configuration
func buildHandler(cfg *config.Config) (*handler.Handler, error) {
	provider := search.NewGoogleProvider(cfg.Search)
	if !provider.IsAvailable() {
		return nil, fmt.Errorf("search provider %s is not configured", provider.Name())
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewSearchGoogle(provider)); err != nil {
		return nil, err
	}

	driver := runner.New(assistant.NewClient(cfg.Assistant), registry, runner.ConfigFrom(cfg.Assistant))
	return handler.NewHandler(driver, registry.Describe(), cfg.Metrics), nil
}

func startServer(cfg *config.Config) error {
	h, err := buildHandler(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	case <-quit:
	}

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
