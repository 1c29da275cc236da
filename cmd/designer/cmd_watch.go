package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/koios/esphome-designer/internal/amqp"
	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/internal/notify"
	"github.com/koios/esphome-designer/internal/redis"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newWatchCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "watch [device]",
		Short: "Print layout change events as they are published",
		Long: `Follow layout_saved and snippet_imported events published by the
designer server. Events are printed to stdout as JSON lines.

With the redis transport, omitting the device follows every device.
The amqp transport consumes the device's durable queue and defaults to
DEFAULT_DEVICE.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			device := ""
			if len(args) == 1 {
				device = args[0]
			}
			return runWatch(cmd, transport, device)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "redis", "event transport: redis or amqp")
	return cmd
}

// eventPrinter writes each event as a JSON line
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w)}
}

func (p *eventPrinter) HandleLayoutEvent(_ context.Context, event *models.LayoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(event)
}

func runWatch(cmd *cobra.Command, transport, device string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	zapCfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var handler notify.Handler = newEventPrinter(cmd.OutOrStdout())

	switch transport {
	case "redis":
		client, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer client.Close()
		return redis.NewSubscriber(client, handler, logger).Start(ctx, device)

	case "amqp":
		if device == "" {
			device = cfg.DefaultDevice
		}
		conn, err := amqp.NewConnection(cfg.AMQP, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		defer conn.Close()
		err = amqp.NewConsumer(conn, handler, logger).Start(ctx, device)
		if ctx.Err() != nil {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown transport %q (want redis or amqp)", transport)
	}
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}
