package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/iotclient"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect and print the session state",
		Long: `Connect with the configured credentials, print the session's
introspection values and tunables, then disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			printStatus(cmd.OutOrStdout(), s.client)
			return nil
		},
	}
}

func printStatus(out io.Writer, c *iotclient.Client) {
	fmt.Fprintf(out, "endpoint:                %s\n", c.Endpoint())
	fmt.Fprintf(out, "client id:               %s\n", c.ClientID())
	fmt.Fprintf(out, "connection type:         %s\n", c.ConnectionType())
	fmt.Fprintf(out, "status:                  %s\n", c.ConnectionStatus())
	fmt.Fprintf(out, "base retry delay:        %s\n", c.BaseRetryDelay())
	fmt.Fprintf(out, "max retry delay:         %s\n", c.MaxRetryDelay())
	fmt.Fprintf(out, "max connection retries:  %d\n", c.MaxConnectionRetries())
	fmt.Fprintf(out, "connection timeout:      %s\n", c.ConnectionTimeout())
	fmt.Fprintf(out, "keep alive interval:     %s\n", c.KeepAliveInterval())
	fmt.Fprintf(out, "max offline queue size:  %d\n", c.MaxOfflineQueueSize())
	fmt.Fprintf(out, "client threads:          %d\n", c.NumOfClientThreads())
	fmt.Fprintf(out, "server ack timeout:      %s\n", c.ServerAckTimeout())

	if will, ok := c.WillMessage(); ok {
		fmt.Fprintf(out, "will:                    %s (%s)\n", will.Topic, will.QoS)
	}

	subs := c.Subscriptions()
	topics := make([]string, 0, len(subs))
	for topic := range subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		fmt.Fprintf(out, "subscription:            %s (%s)\n", topic, subs[topic])
	}

	if devices := c.Devices(); len(devices) > 0 {
		fmt.Fprintf(out, "devices:                 %s\n", strings.Join(devices, ", "))
	}
}
