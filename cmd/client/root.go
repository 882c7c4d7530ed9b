package client

import (
	"fmt"
	"image/png"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/statq/statq/cmd/util"
	"github.com/statq/statq/rpc/client"
	"github.com/statq/statq/rpc/codec"
	"github.com/statq/statq/rpc/common"
)

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Interact with a statq server",
	Long:  `Run queries against a statq server. Credentials and the endpoint can be set via flags or environment variables (STATQ_EMAIL, STATQ_PASSWORD, ...).`,
}

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "endpoint"
	ClientCmd.PersistentFlags().String(key, "localhost:8888", cmdUtil.WrapString("The address of the statq server"))

	key = "email"
	ClientCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Account email"))

	key = "password"
	ClientCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Account password"))

	key = "request-timeout"
	ClientCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How long to wait for a single response, 0 uses the default"))

	key = "log-level"
	ClientCmd.PersistentFlags().String(key, "warn", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupTransportFlags(ClientCmd)
	cmdUtil.SetupSocketFlags(ClientCmd)

	ClientCmd.AddCommand(registerCmd)
	ClientCmd.AddCommand(queryCmd)
	ClientCmd.AddCommand(metadataCmd)

	registerCmd.Flags().String("name", "", cmdUtil.WrapString("Full name of the new account"))
	registerCmd.Flags().String("nickname", "", cmdUtil.WrapString("Display name of the new account"))

	queryCmd.Flags().StringSlice("param", nil, cmdUtil.WrapString("Query parameter as key=value, repeatable (e.g. --param bin_width=5)"))
	queryCmd.Flags().String("chart", "", cmdUtil.WrapString("Write the rendered chart as PNG to this path"))
}

// --------------------------------------------------------------------------
// Subcommands
// --------------------------------------------------------------------------

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		name, _ := cmd.Flags().GetString("name")
		nickname, _ := cmd.Flags().GetString("nickname")
		if err := c.Register(name, nickname, viper.GetString("email"), viper.GetString("password")); err != nil {
			return err
		}
		fmt.Println("account created")
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query TYPE",
	Short: "Run a dataset query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		params, err := parseParams(cmd)
		if err != nil {
			return err
		}

		chartPath, _ := cmd.Flags().GetString("chart")
		table, figure, err := c.Query(args[0], params, chartPath != "")
		if err != nil {
			return err
		}

		printTable(table)

		if chartPath != "" {
			if figure == nil {
				return fmt.Errorf("server returned no chart")
			}
			f, err := os.Create(chartPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := png.Encode(f, figure); err != nil {
				return err
			}
			fmt.Printf("chart written to %s\n", chartPath)
		}
		return nil
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Show what the served dataset contains",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := login(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		meta, err := c.Metadata()
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-14s: %v\n", k, meta[k])
		}
		return nil
	},
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect builds the client configuration from flags and dials the server.
func connect(cmd *cobra.Command) (*client.Client, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	common.InitLoggers(viper.GetString("log-level"))

	c := client.New(common.ClientConfig{
		Endpoint:       viper.GetString("endpoint"),
		RequestTimeout: viper.GetDuration("request-timeout"),
		LogLevel:       viper.GetString("log-level"),
		Transport:      cmdUtil.GetTransportConfig(),
		Socket:         cmdUtil.GetSocketConfig(),
	})
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// login connects and authenticates with the configured credentials.
func login(cmd *cobra.Command) (*client.Client, error) {
	c, err := connect(cmd)
	if err != nil {
		return nil, err
	}
	nickname, err := c.Login(viper.GetString("email"), viper.GetString("password"))
	if err != nil {
		c.Close()
		return nil, err
	}
	fmt.Printf("logged in as %s\n", nickname)
	return c, nil
}

// parseParams converts repeated key=value flags into a payload map.
func parseParams(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetStringSlice("param")
	params := map[string]any{}
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", kv)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}

// printTable renders a result table to stdout.
func printTable(t *codec.Table) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprint(cell)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
}
