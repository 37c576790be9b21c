package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "client for the shellgate PTY gateway",
	}

	root.PersistentFlags().String("addr", "http://127.0.0.1:3000", "gateway base address")
	root.PersistentFlags().String("token", os.Getenv("SHELLGATE_TOKEN"), "bearer token (default: $SHELLGATE_TOKEN)")

	root.AddCommand(execCmd())
	root.AddCommand(attachCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(listCmd())
	root.AddCommand(deleteCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
