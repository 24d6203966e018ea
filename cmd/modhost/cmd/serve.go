package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nfrund/modhost/internal/app"
	"github.com/nfrund/modhost/internal/config"
	"github.com/nfrund/modhost/internal/logging"
	"github.com/nfrund/modhost/internal/modloader"
	"github.com/nfrund/modhost/internal/pubsub"
	"github.com/nfrund/modhost/internal/world"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the module host until interrupted",
	Long: `Loads every module binary found in MODULES_DIR, starts the world loop,
watches for rebuilt binaries and serves the admin API on ADMIN_ADDR.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		logging.New()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve runs the host on the calling goroutine, which becomes the world goroutine.
func serve(ctx context.Context, cfg *config.Config) error {
	i := app.NewInjector(cfg)

	tracing, err := do.Invoke[*app.Tracing](i)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	bridge := do.MustInvoke[*pubsub.WatermillBridge](i)
	defer bridge.Close()

	loader := do.MustInvoke[*modloader.Loader](i)
	modloader.SetDefault(loader)
	defer modloader.SetDefault(nil)

	if err := loader.Initialize(); err != nil {
		return fmt.Errorf("initialize module loader: %w", err)
	}

	host, err := do.Invoke[*app.Host](i)
	if err != nil {
		loader.Unload()
		return err
	}
	if err := host.Boot(ctx); err != nil {
		loader.Unload()
		return err
	}

	w := do.MustInvoke[*world.World](i)
	w.Register(loader)
	w.OnStop(loader.Unload)

	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return host.Shutdown(shutdownCtx)
}
