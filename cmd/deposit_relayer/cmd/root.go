package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "deposit_relayer",
	Short: "Relays staking deposits from the source chain to the destination program",
}
