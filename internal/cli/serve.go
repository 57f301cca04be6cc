package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirelabs/conductor/internal/config"
	"github.com/mirelabs/conductor/internal/tracing"
	"github.com/mirelabs/conductor/pkg/conversation"
	"github.com/mirelabs/conductor/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agent turns over HTTP and websocket",
	Long: `Start the gateway server. Buffered turns are served on POST /turn,
streamed turns over the /ws websocket, with health and metrics endpoints
alongside. A daily sweep prunes oversized conversations and deletes aged
archived ones. The server runs until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret must be configured")
	}

	if err := tracing.InitOpenTelemetry("conductor"); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	server, err := gateway.NewServer(gateway.Config{
		Addr:          rt.cfg.Gateway.Addr,
		SharedSecret:  rt.cfg.Gateway.SharedSecret,
		Runner:        rt.engine,
		Agents:        rt.lookupAgent,
		Conversations: rt.conversations,
		Logger:        rt.log.GetZerolog(),
	})
	if err != nil {
		return err
	}

	// Agent edits take effect on the next turn without a restart.
	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), rt.swapConfig, rt.log.GetZerolog())
	if err != nil {
		return err
	}
	defer watcher.Close()

	cleanup := conversation.NewCleanup(rt.conversations, conversation.CleanupConfig{
		Logger: rt.log.GetZerolog(),
	})
	if err := cleanup.Start(); err != nil {
		return err
	}
	defer cleanup.Stop()

	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return server.Stop()
}
