package pumprelay

import (
	"fmt"

	"github.com/edgeflare/pumprelay/pkg/control"
	"github.com/edgeflare/pumprelay/pkg/mqtt"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:     "send <pump-id> <START|STOP>",
	Short:   "Publish one control command and exit",
	Example: "  pumprelay send 1 STOP --mqtt-broker mqtt://localhost:1883",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := mqtt.NewClient(cfg.MQTT.ClientOptions(), logger.Named("mqtt"))
		if err != nil {
			return err
		}
		if err := bus.Connect(cmd.Context()); err != nil {
			return err
		}
		defer bus.Disconnect()

		qos := byte(cfg.MQTT.ControlQoS)
		relay := control.New(control.Config{
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            &qos,
			PublishTimeout: cfg.MQTT.PublishTimeout,
		}, bus, logger.Named("control"))

		ack, err := relay.Send(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (topic %s)\n", ack.Message(), ack.Topic)
		return nil
	},
}
