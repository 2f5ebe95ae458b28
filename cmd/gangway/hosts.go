package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/gangway/internal/hosts"
)

func hostsCmd() *cobra.Command {
	var hostsFlag string

	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List configured hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := hosts.Load(hostsFlag)
			if err != nil {
				return err
			}
			names := dir.Names()
			sort.Strings(names)
			for _, name := range names {
				p, err := dir.Resolve(name)
				if err != nil {
					continue
				}
				fmt.Printf("%-20s %s@%s\n", name, p.User, p.Address())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hostsFlag, "hosts", hosts.DefaultPath(), "hosts file path")
	return cmd
}
