package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/iotclient"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configPath string
	loopback   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "iotctl",
		Short: "AWS IoT style MQTT client",
		Long: `iotctl connects to a device gateway over mutual TLS or SigV4-signed
WebSocket and exposes the session from the command line.

Connection settings come from the YAML configuration file; secrets are read
from GRAYLOGIC_IOT_* and AWS_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", getConfigPath(), "configuration file (env GRAYLOGIC_IOT_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.loopback, "loopback", false, "use an in-memory broker instead of the configured endpoint")

	root.AddCommand(
		newStatusCmd(opts),
		newPublishCmd(opts),
		newSubscribeCmd(opts),
	)

	return root
}

// qosUsage lists the accepted QoS tags for flag help.
func qosUsage() string {
	return fmt.Sprintf("QoS tag (%s)", strings.Join(iotclient.QoSTags.Tags(), ", "))
}
