package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/iotclient"
)

// errPublishIncomplete is returned when an asynchronous publish reports
// failure or timeout.
var errPublishIncomplete = errors.New("publish did not complete")

type publishOptions struct {
	qos     string
	timeout time.Duration
	async   bool
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	pubOpts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Publish a message",
		Long: `Publish a message and wait for its outcome.

Without --async the call blocks until the gateway acknowledges it. With
--async the message is handed to the connection and the command waits for
its success, failure or timeout callback.

Examples:
  iotctl publish sensors/temperature 21.5
  iotctl publish things/lamp/shadow/update '{"state":{"desired":{"on":true}}}' --qos qos1
  iotctl publish alerts/door open --qos qos1 --timeout 2s --async`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			topic, payload := args[0], []byte(args[1])
			out := cmd.OutOrStdout()

			if !pubOpts.async {
				if _, err := s.client.PublishBlocking(topic, payload, iotclient.PublishOptions{
					QoS:     pubOpts.qos,
					Timeout: pubOpts.timeout,
				}); err != nil {
					return fmt.Errorf("publishing to %s: %w", topic, err)
				}
				fmt.Fprintf(out, "published %d bytes to %s\n", len(payload), topic)
				return nil
			}

			outcome := make(chan string, 1)
			publish := iotclient.MakePublisher(
				func() { outcome <- iotclient.OutcomeSuccess },
				func() { outcome <- iotclient.OutcomeFailure },
				func() { outcome <- iotclient.OutcomeTimeout },
			)
			msg := publish(topic, pubOpts.qos, payload)
			if _, err := s.client.PublishAsync(msg); err != nil {
				return fmt.Errorf("publishing to %s: %w", topic, err)
			}

			select {
			case result := <-outcome:
				if result != iotclient.OutcomeSuccess {
					return fmt.Errorf("%w: message %s to %s: %s", errPublishIncomplete, msg.ID, topic, result)
				}
				fmt.Fprintf(out, "published %d bytes to %s (message %s)\n", len(payload), topic, msg.ID)
				return nil
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}

	cmd.Flags().StringVar(&pubOpts.qos, "qos", "", qosUsage())
	cmd.Flags().DurationVar(&pubOpts.timeout, "timeout", 0, "acknowledgement timeout (blocking publish only)")
	cmd.Flags().BoolVar(&pubOpts.async, "async", false, "publish asynchronously and wait for the callback")

	return cmd
}
