package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/gangway/internal/gateway"
	"github.com/ehrlich-b/gangway/internal/protocol"
)

func fsCmd() *cobra.Command {
	var gatewayFlag string
	var hostFlag string

	cmd := &cobra.Command{
		Use:   "fs",
		Short: "File operations through the gateway",
	}
	cmd.PersistentFlags().StringVar(&gatewayFlag, "gateway", "ws://127.0.0.1:8022", "gateway base URL")
	cmd.PersistentFlags().StringVar(&hostFlag, "host", "local", "target host name, or \"local\"")

	dial := func(cmd *cobra.Command) (*gateway.FileClient, error) {
		return gateway.DialFiles(cmd.Context(), gatewayFlag, hostFlag)
	}

	ls := &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			entries, err := c.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "-"
				if e.IsDir {
					kind = "d"
				}
				mod := time.Unix(e.ModTime, 0).Format("2006-01-02 15:04")
				fmt.Printf("%s %10d  %s  %s\n", kind, e.Size, mod, e.Name)
			}
			return nil
		},
	}

	cat := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			content, encoding, err := c.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if encoding == protocol.EncodingBase64 {
				data, err := base64.StdEncoding.DecodeString(content)
				if err != nil {
					return err
				}
				os.Stdout.Write(data)
				return nil
			}
			fmt.Print(content)
			return nil
		},
	}

	put := &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Upload a local file to the target path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			// Always ship base64: content may be binary and the write
			// path decodes it either way.
			return c.Write(cmd.Context(), args[1],
				base64.StdEncoding.EncodeToString(data), protocol.EncodingBase64)
		},
	}

	rm := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Delete(cmd.Context(), args[0], recursive)
		},
	}
	rm.Flags().BoolP("recursive", "r", false, "delete directories recursively")

	mv := &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "Rename a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Rename(cmd.Context(), args[0], args[1])
		},
	}

	mkdir := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory, parents included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Create(cmd.Context(), args[0], true)
		},
	}

	cmd.AddCommand(ls, cat, put, rm, mv, mkdir)
	return cmd
}
