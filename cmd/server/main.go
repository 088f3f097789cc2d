// Command cafeprintd is the terminal daemon: it owns the receipt and
// kitchen printers, serves the local control API and takes jobs from the
// relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thereceipt/cafeprint/internal/api"
	"github.com/thereceipt/cafeprint/internal/command"
	"github.com/thereceipt/cafeprint/internal/config"
	"github.com/thereceipt/cafeprint/internal/dispatch"
	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/printer"
	"github.com/thereceipt/cafeprint/internal/registry"
	"github.com/thereceipt/cafeprint/internal/relay"
	"github.com/thereceipt/cafeprint/internal/tui"
)

// Version is set during build via ldflags
var Version = "dev"

type flags struct {
	configPath  string
	port        string
	interactive bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "cafeprintd",
		Short:         "Café terminal printing daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if f.port != "" {
				cfg.Server.Port = f.port
			}

			log.Configure(log.Config{Level: cfg.Log.Level, Service: "cafeprintd"})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, f.interactive); err != nil && !errors.Is(err, context.Canceled) {
				logger := log.WithComponent("main")
				logger.Error().Err(err).Msg("daemon stopped")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "cafeprint.yaml", "path to the YAML config file")
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "control API port (overrides config)")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "pick printers in a terminal list instead of the configured defaults")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, interactive bool) error {
	logger := log.WithComponent("main")
	logger.Info().Str("version", Version).Str("terminal", cfg.Terminal.ID).Msg("cafeprintd starting")

	reg, err := registry.New(cfg.Registry.Path)
	if err != nil {
		return err
	}

	usbHost := printer.NewGoUSBHost(reg, cfg.USB.PollInterval)
	defer usbHost.Close()

	radio, services := radioBackend(cfg.Bluetooth)

	var usbChooser, radioChooser printer.Chooser = printer.PreferredChooser{}, printer.PreferredChooser{Match: cfg.Bluetooth.Address}
	if interactive {
		c := tui.NewChooser(nil, nil)
		usbChooser, radioChooser = c, c
	}

	usb := printer.NewUSBSession(usbHost, usbChooser, printer.USBOptions{
		VendorIDs:     cfg.USB.VendorIDs,
		ChunkSize:     cfg.USB.ChunkSize,
		ChunkDelay:    cfg.USB.ChunkDelay,
		SelfHealDelay: cfg.USB.SelfHealDelay,
	})
	defer usb.Disconnect()

	kitchen := printer.NewRadioSession(radio, radioChooser, printer.RadioOptions{
		NamePrefixes:   cfg.Bluetooth.NamePrefixes,
		Services:       services,
		ChunkSize:      cfg.Bluetooth.ChunkSize,
		ChunkDelay:     cfg.Bluetooth.ChunkDelay,
		ReconnectDelay: cfg.Bluetooth.ReconnectDelay,
		ScanTimeout:    cfg.Bluetooth.ScanTimeout,
		Registry:       reg,
	})
	defer kitchen.Disconnect()

	router := dispatch.New(usb, kitchen, dispatch.Options{
		ReceiptPaper: cfg.Paper.Receipt,
		KitchenPaper: cfg.Paper.Kitchen,
	})
	defer router.Close()

	logStatusChanges(router, logger)

	// A previously granted receipt printer comes back without asking
	if err := router.AutoConnectUSB(ctx); err != nil {
		logger.Debug().Err(err).Msg("no granted receipt printer at startup")
	}

	server := api.NewServer(router, command.NewExecutor(router, reg))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, net.JoinHostPort("0.0.0.0", cfg.Server.Port))
	})

	if cfg.Relay.Enabled {
		client := relay.NewClient(relayDialer(cfg), router, relay.Options{
			TerminalID: cfg.Terminal.ID,
			Name:       cfg.Terminal.Name,
			Backoff: relay.Backoff{
				Initial:    cfg.Relay.Reconnect.Initial,
				Max:        cfg.Relay.Reconnect.Max,
				Multiplier: cfg.Relay.Reconnect.Multiplier,
			},
		})
		g.Go(func() error {
			return client.Run(ctx)
		})
	} else {
		logger.Info().Msg("relay disabled, serving local API only")
	}

	err = g.Wait()
	logger.Info().Msg("cafeprintd shutting down")
	return err
}

// radioBackend picks the kitchen printer backend and the services it
// accepts. Serial ports only ever expose the SPP service.
func radioBackend(cfg config.BluetoothConfig) (printer.RadioAdapter, []string) {
	services := append([]string(nil), cfg.Services...)
	if cfg.Backend == "serial" {
		return printer.NewSerialRadio(0), append(services, printer.SPPServiceUUID)
	}
	return printer.NewBLERadio(), services
}

func relayDialer(cfg *config.Config) relay.Dialer {
	if cfg.Relay.Transport == "nats" {
		return &relay.NATSDialer{
			URL:        cfg.Relay.URL,
			Subject:    cfg.Relay.Subject,
			TerminalID: cfg.Terminal.ID,
			Token:      cfg.Relay.APIKey,
		}
	}
	return &relay.WebsocketDialer{
		URL:        cfg.Relay.URL,
		APIKey:     cfg.Relay.APIKey,
		TerminalID: cfg.Terminal.ID,
	}
}

func logStatusChanges(router *dispatch.Router, logger zerolog.Logger) {
	router.Subscribe(func(s dispatch.Status) {
		logger.Info().
			Str("usb", string(s.USB)).
			Str("bluetooth", string(s.Bluetooth)).
			Msg("printer status changed")
	})
}
