package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tabtree/internal/app"
	"github.com/zjrosen/tabtree/internal/host/memhost"
	"github.com/zjrosen/tabtree/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and its HTTP API",
	Long: `Run the tab tree engine as a long-lived process. Sidebar clients send
requests to POST /rpc and follow GET /events for STATE_UPDATED broadcasts.

With --simulate the engine runs against an in-memory browser that can be
driven through the /host/* endpoints.

Example:
  tabtree serve                                  # Start on the configured address
  tabtree serve --addr 127.0.0.1:0               # Let the OS pick a port
  tabtree serve --simulate --open https://a.example --open https://b.example`,
	RunE: runServe,
}

var (
	serveAddr      string
	serveSimulate  bool
	serveOpen      []string
	serveLogStderr bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "Expose the /host/* endpoints of the in-memory browser")
	serveCmd.Flags().StringSliceVar(&serveOpen, "open", nil, "Open a simulated window with these URLs before start")
	serveCmd.Flags().BoolVar(&serveLogStderr, "log-stderr", false, "Write info logs to stderr")
}

func runServe(_ *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	cleanup, err := initLogging("tabtree-serve")
	if err != nil {
		return err
	}
	defer cleanup()
	if serveLogStderr && !debugFlag {
		log.InitWriter(os.Stderr, log.LevelInfo)
	}

	if serveAddr != "" {
		c.Server.Addr = serveAddr
	}

	// No browser bridge ships with tabtree, so the host is always the
	// in-memory one; --simulate decides whether it can be driven.
	h := memhost.New()
	if len(serveOpen) > 0 {
		h.OpenWindow(serveOpen...)
	}

	a, err := app.New(app.Options{
		Config:     c,
		ConfigPath: configPath(),
		Host:       h,
		Simulate:   serveSimulate,
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	if err := a.Start(true); err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("starting engine: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Printf("tabtree serving on port %d\n", a.Port())
	fmt.Println("Press Ctrl+C to stop")

	sig := <-sigCh
	fmt.Printf("\nReceived %s, shutting down...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatAPI, "Shutdown incomplete", err)
		return err
	}
	fmt.Println("Stopped")
	return nil
}
