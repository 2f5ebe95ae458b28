package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/gangway/internal/gateway"
)

func probeCmd() *cobra.Command {
	var gatewayFlag string
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "probe <host>",
		Short: "Check whether a host will demand a password, without starting a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
			defer cancel()

			needsPassword, err := gateway.Probe(ctx, gatewayFlag, args[0])
			if err != nil {
				return err
			}
			if needsPassword {
				fmt.Println("password required")
			} else {
				fmt.Println("no password required")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayFlag, "gateway", "ws://127.0.0.1:8022", "gateway base URL")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
