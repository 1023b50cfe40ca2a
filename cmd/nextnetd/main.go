// Command nextnetd runs the reverse forwarder's server half: it accepts one
// controller connection at a time on a loopback TCP port and multiplexes
// every forward rule that controller opens.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imterah/nextnet/internal/conf"
	"github.com/imterah/nextnet/internal/flog"
	"github.com/imterah/nextnet/internal/server"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nextnetd [port]",
		Short:         "Run the reverse forwarder control server",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServer,
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a deployment config file")
	root.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	return root
}

// resolvePort picks the control port from the positional CLI argument when
// given, falling back to the port named by the config file's listen
// address otherwise. The host half of that address is never honored: the
// control socket always binds loopback only, regardless of what a
// deployment file says (see SPEC_FULL.md §6).
func resolvePort(args []string, cfg *conf.Conf) (uint16, error) {
	if len(args) == 1 {
		port, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		return uint16(port), nil
	}

	if cfg != nil && cfg.Listen != "" {
		_, portStr, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			return 0, fmt.Errorf("config listen address %q: %w", cfg.Listen, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("config listen address %q: %w", cfg.Listen, err)
		}
		return uint16(port), nil
	}

	return 0, errMissingPort
}

var errMissingPort = fmt.Errorf("no control port given on the command line or in the config file")

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *conf.Conf
	if configPath != "" {
		var err error
		cfg, err = conf.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	port, err := resolvePort(args, cfg)
	if err != nil {
		return err
	}

	level := "info"
	if cfg != nil {
		level = cfg.LogLevel
	}
	if logLevel != "" {
		level = logLevel
	}
	applyLogLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()

	flog.Infof("listening for a controller on %s", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if werr := flog.WErr(err); werr != nil {
				return werr
			}
			return nil
		}
		sess := server.NewSession(ctx, conn, cfg)
		sess.Run()
	}
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		flog.SetLevel(int(flog.Debug))
	case "warn":
		flog.SetLevel(int(flog.Warn))
	case "error":
		flog.SetLevel(int(flog.Error))
	default:
		flog.SetLevel(int(flog.Info))
	}
}
