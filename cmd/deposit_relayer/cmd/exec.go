package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

// ExecCmd represents the exec command
var ExecCmd = &cobra.Command{
	Use:   "exec",
	Short: "Operator actions on a running relayer",
}

func init() {
	ExecCmd.PersistentFlags().StringVarP(&urlRelayer, UrlFlagName, "u", defaultURL, "server url")
	ExecCmd.AddCommand(requeueCmd)
	RootCmd.AddCommand(ExecCmd)
}

// requeueCmd represents the requeue command
var requeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Args:  cobra.ExactArgs(1),
	Short: "Give a Failed message a fresh attempt budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := relayerClient(cmd)
		if err != nil {
			return err
		}
		id, err := relay.ParseDepositID(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse message id: %w", err)
		}

		msg, err := client.Requeue(id.String())
		if err != nil {
			return fmt.Errorf("failed to requeue message: %w", err)
		}

		fmt.Printf("Message %s requeued to %s (was %s)\n", msg.ID, msg.State, msg.RequeuedFrom)
		return nil
	},
}
