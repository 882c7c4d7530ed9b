package serve

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/statq/statq/cmd/util"
	"github.com/statq/statq/lib/dataset"
	"github.com/statq/statq/lib/registry"
	"github.com/statq/statq/rpc/common"
	"github.com/statq/statq/rpc/server"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the statq server",
		Long:    `Start the statq server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is STATQ_<flag> (e.g. STATQ_ENDPOINT=0.0.0.0:8888)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8888", cmdUtil.WrapString("The address on which the server accepts client connections"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address for the Prometheus metrics listener (e.g. 127.0.0.1:9100). Empty disables metrics"))

	key = "dataset"
	ServeCmd.PersistentFlags().String(key, "data/processed_arrest_data.csv", cmdUtil.WrapString("Path to the CSV dataset served to query clients"))

	key = "registry"
	ServeCmd.PersistentFlags().String(key, "statq.db", cmdUtil.WrapString("Path to the SQLite database holding clients, sessions and the query log. Use :memory: for an ephemeral registry"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupTransportFlags(ServeCmd)
	cmdUtil.SetupSocketFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.DatasetPath = viper.GetString("dataset")
	serveCmdConfig.RegistryPath = viper.GetString("registry")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = cmdUtil.GetTransportConfig()
	serveCmdConfig.Socket = cmdUtil.GetSocketConfig()

	common.InitLoggers(serveCmdConfig.LogLevel)
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	ds, err := dataset.Load(serveCmdConfig.DatasetPath)
	if err != nil {
		return err
	}

	reg, err := registry.Open(serveCmdConfig.RegistryPath)
	if err != nil {
		return err
	}
	defer reg.Close()

	s := server.New(*serveCmdConfig, reg, dataset.NewProcessor(ds))
	return s.Serve()
}
