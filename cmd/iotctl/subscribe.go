package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/iotclient"
)

func newSubscribeCmd(opts *rootOptions) *cobra.Command {
	var qos string

	cmd := &cobra.Command{
		Use:   "subscribe <topic>...",
		Short: "Print messages on one or more topic filters",
		Long: `Subscribe to each topic filter and print every message received until
interrupted. Filters may use the + and # wildcards.

Examples:
  iotctl subscribe 'sensors/#'
  iotctl subscribe '$aws/things/lamp/shadow/update/delta' --qos qos1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			out := &syncWriter{w: cmd.OutOrStdout()}
			for _, topic := range args {
				sub := iotclient.MakeSubscription(topic, qos, func(m iotclient.Message) {
					fmt.Fprintf(out, "%s [%s] %s\n", m.Topic, m.QoS, m.Payload)
				})
				if _, err := s.client.Subscribe(sub); err != nil {
					return fmt.Errorf("subscribing to %s: %w", topic, err)
				}
				fmt.Fprintf(out, "subscribed to %s\n", topic)
			}

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&qos, "qos", "", qosUsage())

	return cmd
}

// syncWriter serialises writes from concurrent delivery callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
