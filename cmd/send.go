package cmd

import (
	"os"
	"strings"

	"github.com/kestrel-systems/uevmon/internal/logging"
	"github.com/kestrel-systems/uevmon/internal/metrics"
	"github.com/kestrel-systems/uevmon/pkg/uevent"
	"github.com/spf13/cobra"
)

// CreateSendCmd creates the send command: a one-shot tool that builds a
// synthetic device from CLI-supplied fields and broadcasts it to the peer
// multicast group.
func CreateSendCmd() *cobra.Command {
	var subsystem string
	var devtype string
	var tags []string
	var properties []string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a synthetic device event to the peer group",
		Long:  `Builds a device from --subsystem/--devtype/--tag/--property flags and sends it to the peer multicast group.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("send")

			fields := make(map[string]string, len(properties))
			for _, kv := range properties {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					logger.Error("Malformed --property, expected KEY=VALUE", "value", kv)
					os.Exit(1)
				}
				fields[k] = v
			}

			device := uevent.NewSimpleDeviceFromFields(subsystem, devtype, tags, fields)

			mon, err := uevent.FromGroup("peer", nil)
			if err != nil {
				logger.Error("Failed to open monitor", "error", err)
				os.Exit(1)
			}
			defer func() { _ = mon.Close() }()

			if err := mon.SendDevice(nil, device); err != nil {
				logger.Error("Failed to send device", "error", err)
				os.Exit(1)
			}

			metrics.IncEventSent(subsystem)
			logger.Info("Device sent", "subsystem", subsystem, "devtype", devtype, "tags", tags)
			return nil
		},
	}

	cmd.Flags().StringVar(&subsystem, "subsystem", "", "Device subsystem (required)")
	cmd.Flags().StringVar(&devtype, "devtype", "", "Device devtype")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Device tag (repeatable)")
	cmd.Flags().StringSliceVar(&properties, "property", nil, "Additional KEY=VALUE property (repeatable)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	_ = cmd.MarkFlagRequired("subsystem")

	return cmd
}
