package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iret33/ha-climate-scheduler/internal/cmd/scheduler"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "climate-scheduler",
		Short: "Preset scheduler for smart-home climate devices",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	RootCmd.AddCommand(&scheduler.Cmd)
}

var args = charmer.Arguments{
	"debug":             charmer.Argument{Default: false, Help: "Log debug messages"},
	"server.addr":       charmer.Argument{Default: ":8080", Help: "Address of the REST & websocket API"},
	"exporter.addr":     charmer.Argument{Default: ":9090", Help: "Address of the Prometheus exporter"},
	"health.addr":       charmer.Argument{Default: ":8081", Help: "Address of the /health endpoint"},
	"poller.interval":   charmer.Argument{Default: time.Minute, Help: "Schedule evaluation interval"},
	"mqtt.broker":       charmer.Argument{Default: "tcp://localhost:1883", Help: "MQTT broker URL"},
	"mqtt.username":     charmer.Argument{Default: "", Help: "MQTT username"},
	"mqtt.password":     charmer.Argument{Default: "", Help: "MQTT password"},
	"database.path":     charmer.Argument{Default: "climate-scheduler.db", Help: "State database. Empty disables persistence"},
	"override.duration": charmer.Argument{Default: 30 * time.Minute, Help: "How long a manual override lasts"},
	"override.persist":  charmer.Argument{Default: false, Help: "Persist manual overrides across restarts"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/climate-scheduler/")
		viper.AddConfigPath("$HOME/.climate-scheduler")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), args); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("CLIMATE_SCHEDULER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", "err", err)
		os.Exit(1)
	}
}
