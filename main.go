package main

import (
	"fmt"
	"os"

	"github.com/kestrel-systems/uevmon/cmd"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "uevmon",
		Short: "Device-event monitor for the kernel uevent and peer multicast channels",
	}

	root.AddCommand(cmd.CreateMonitorCmd())
	root.AddCommand(cmd.CreateSendCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
