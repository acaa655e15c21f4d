package main

import (
	"os"

	"github.com/neutron-org/deposit-relayer/cmd/deposit_relayer/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
