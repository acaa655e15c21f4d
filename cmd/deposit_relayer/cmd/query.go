package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	relayhttp "github.com/neutron-org/deposit-relayer/internal/http"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

var urlRelayer string

const (
	UrlFlagName   = "url"
	StateFlagName = "state"
	defaultURL    = "http://localhost:9999"
)

// QueryCmd represents the query command
var QueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a running relayer",
}

func init() {
	QueryCmd.PersistentFlags().StringVarP(&urlRelayer, UrlFlagName, "u", defaultURL, "server url")
	messagesCmd.Flags().StringP(StateFlagName, "s", string(relay.StateFailed), "message state to list")
	QueryCmd.AddCommand(statusCmd, messagesCmd, messageCmd)
	RootCmd.AddCommand(QueryCmd)
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query message counts per state, the current checkpoint and the last processed block",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := relayerClient(cmd)
		if err != nil {
			return err
		}

		status, err := client.GetStatus()
		if err != nil {
			return fmt.Errorf("failed to get relayer status: %w", err)
		}
		return printJSON("Status", status)
	},
}

// messagesCmd represents the messages command
var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Query relay messages in a state, Failed by default",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := relayerClient(cmd)
		if err != nil {
			return err
		}
		s, err := cmd.Flags().GetString(StateFlagName)
		if err != nil {
			return err
		}
		state, err := relay.ParseState(s)
		if err != nil {
			return err
		}

		msgs, err := client.GetMessages(state)
		if err != nil {
			return fmt.Errorf("failed to get %s messages: %w", state, err)
		}
		return printJSON(fmt.Sprintf("%s messages", state), msgs)
	},
}

// messageCmd represents the message command
var messageCmd = &cobra.Command{
	Use:   "message <id>",
	Args:  cobra.ExactArgs(1),
	Short: "Query a single relay message by its <chainID>/<txHash>/<logIndex> id",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := relayerClient(cmd)
		if err != nil {
			return err
		}
		id, err := relay.ParseDepositID(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse message id: %w", err)
		}

		msg, err := client.GetMessage(id.String())
		if err != nil {
			return fmt.Errorf("failed to get message: %w", err)
		}
		return printJSON("Message", msg)
	},
}

func relayerClient(cmd *cobra.Command) (*relayhttp.RelayerClient, error) {
	url, err := cmd.Flags().GetString(UrlFlagName)
	if err != nil {
		return nil, err
	}

	client, err := relayhttp.NewRelayerClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to get new relayer client: %w", err)
	}
	return client, nil
}

func printJSON(title string, v interface{}) error {
	var response bytes.Buffer
	encoder := json.NewEncoder(&response)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	fmt.Printf("%s:\n%s\n", title, response.String())
	return nil
}
