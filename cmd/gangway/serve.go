package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/gangway/internal/gateway"
	"github.com/ehrlich-b/gangway/internal/hosts"
)

func serveCmd() *cobra.Command {
	var addrFlag string
	var hostsFlag string
	var shellFlag string
	var authKeyFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := hosts.Open(hostsFlag)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := gateway.Options{
				Hosts: store,
				Shell: shellFlag,
			}
			if authKeyFlag != "" {
				key, err := loadECPublicKey(authKeyFlag)
				if err != nil {
					return fmt.Errorf("load auth key: %w", err)
				}
				opts.AuthPubKey = key
			}

			srv := gateway.NewServer(opts)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addrFlag)
			}()

			select {
			case <-ctx.Done():
				fmt.Println("shutting down...")
				return srv.Close()
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "127.0.0.1:8022", "listen address")
	cmd.Flags().StringVar(&hostsFlag, "hosts", hosts.DefaultPath(), "hosts file path")
	cmd.Flags().StringVar(&shellFlag, "shell", "", "shell command for local sessions (default $SHELL)")
	cmd.Flags().StringVar(&authKeyFlag, "auth-key", "", "PEM file with an ES256 public key; require bearer JWTs when set")
	return cmd
}

func loadECPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an ECDSA public key", path)
	}
	return ecKey, nil
}
