package util

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/statq/statq/rpc/common"
)

const (
	// Wrap is the column at which flag help texts are wrapped
	Wrap int = 50
)

// WrapString reflows text so no line of flag help exceeds Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// word does not fit, break the line
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// flush the last partial line
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables. The
// format is STATQ_<flag> (e.g. STATQ_ENDPOINT=localhost:8888).
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("statq")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupTransportFlags adds the frame protocol limit flags shared by the
// serve and client commands.
func SetupTransportFlags(cmd *cobra.Command) {
	key := "max-message-size"
	cmd.PersistentFlags().Int(key, 10_000_000, WrapString("The largest accepted frame body in bytes. Frames declaring a longer body terminate the connection"))

	key = "header-timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("How long to wait for the next message to begin"))

	key = "body-timeout"
	cmd.PersistentFlags().Duration(key, 15*time.Second, WrapString("Floor for reading one message body. An additional allowance is granted per megabyte of declared size"))

	key = "body-timeout-per-mb"
	cmd.PersistentFlags().Duration(key, 2*time.Second, WrapString("Extra body read time granted per megabyte of declared message size"))

	key = "write-timeout"
	cmd.PersistentFlags().Duration(key, 30*time.Second, WrapString("Deadline for writing one complete message"))
}

// SetupSocketFlags adds the TCP tuning flags shared by the serve and client
// commands.
func SetupSocketFlags(cmd *cobra.Command) {
	key := "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on connections"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds, 0 disables"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time in seconds, 0 disables"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The socket read buffer size in KB, 0 keeps the system default"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The socket write buffer size in KB, 0 keeps the system default"))
}

// GetTransportConfig reads the frame protocol limits from viper
func GetTransportConfig() common.TransportConfig {
	return common.TransportConfig{
		MaxMessageSize:   viper.GetInt("max-message-size"),
		HeaderTimeout:    viper.GetDuration("header-timeout"),
		BodyTimeout:      viper.GetDuration("body-timeout"),
		BodyTimeoutPerMB: viper.GetDuration("body-timeout-per-mb"),
		WriteTimeout:     viper.GetDuration("write-timeout"),
	}
}

// GetSocketConfig reads the TCP tuning options from viper
func GetSocketConfig() common.SocketConf {
	return common.SocketConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
	}
}
