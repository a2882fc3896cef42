// Command nbtlsctl is a diagnostic CLI exercising SocketPool and Encryptor
// end-to-end against a real host, in the same cobra-driven-CLI idiom as
// cmd/caddy.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caddyserver/nbtls"
	"github.com/caddyserver/nbtls/crypto"
	"github.com/caddyserver/nbtls/pool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nbtlsctl",
		Short: "Diagnose nbtls's socket pool and TLS handshake controller against a live host",
		Long: `nbtlsctl checks out a pooled connection to a host, upgrades it to TLS,
and reports the outcome — a smoke test for the SocketPool and
Encryptor working together, without writing a Go program.`,
	}
	root.AddCommand(newCheckCmd())
	return root
}

func newCheckCmd() *cobra.Command {
	var (
		authority   string
		peerName    string
		caFile      string
		verifyPeer  bool
		timeoutSecs int
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Checkout a connection, enable TLS, then check it back in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), checkOptions{
				authority:   authority,
				peerName:    peerName,
				caFile:      caFile,
				verifyPeer:  verifyPeer,
				timeoutSecs: timeoutSecs,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&authority, "authority", "", "host:port to connect to (required)")
	flags.StringVar(&peerName, "peer-name", "", "expected TLS server name / certificate name")
	flags.StringVar(&caFile, "cafile", "", "PEM bundle of trusted CA certificates")
	flags.BoolVar(&verifyPeer, "verify-peer", true, "verify the peer certificate chain and name")
	flags.IntVar(&timeoutSecs, "timeout", 10, "overall timeout in seconds")
	_ = cmd.MarkFlagRequired("authority")

	return cmd
}

type checkOptions struct {
	authority   string
	peerName    string
	caFile      string
	verifyPeer  bool
	timeoutSecs int
}

func runCheck(ctx context.Context, opts checkOptions) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(ctx, time.Duration(opts.timeoutSecs)*time.Second)
	defer cancel()

	reactor := nbtls.NewReactor(logger)
	metrics := nbtls.NewMetrics()

	p := pool.New(pool.Config{Reactor: reactor, Logger: logger, Metrics: metrics})
	enc := crypto.New(reactor, crypto.Config{Reactor: reactor, Logger: logger, Metrics: metrics})

	logger.Info("checking out socket", zap.String("authority", opts.authority))
	sock, err := p.Checkout(ctx, opts.authority, nil).Wait(ctx)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	enableOpts := nbtls.Options{
		"peer_name":   opts.peerName,
		"verify_peer": opts.verifyPeer,
	}
	if opts.caFile != "" {
		enableOpts["cafile"] = opts.caFile
	}

	logger.Info("enabling TLS")
	if _, err := enc.Enable(ctx, sock, enableOpts).Wait(ctx); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	logger.Info("handshake completed", zap.String("socket_id", string(sock.ID())))

	if _, err := enc.Disable(ctx, sock).Wait(ctx); err != nil {
		return fmt.Errorf("disable: %w", err)
	}

	if err := p.Checkin(ctx, sock.ID(), nil); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	logger.Info("check complete", zap.String("authority", opts.authority))
	return nil
}
