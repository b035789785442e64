package pumprelay

import (
	"fmt"
	"os"

	"github.com/edgeflare/pumprelay/pkg/config"
	"github.com/edgeflare/pumprelay/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pumprelay",
	Short: "pumprelay bridges pump controllers and the monitoring dashboard",
	Long: `pumprelay stores telemetry published by pump controllers over MQTT in PostgreSQL,
serves it over HTTP and relays START/STOP commands back to the pumps`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, err = logging.New(cfg.Log.Level)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if versionFlag, _ := cmd.Flags().GetBool("version"); versionFlag {
			fmt.Println(config.Version)
			return
		}
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pumprelay.yaml)")
	f.StringP("log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	f.String("database-url", "", "PostgreSQL connection string")
	f.String("mqtt-broker", "", "MQTT broker URL, e.g. mqtt://localhost:1883")
	f.String("topic-prefix", "", "MQTT topic prefix (default caracas/pumps)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(serveCmd, migrateCmd, sendCmd)
}
