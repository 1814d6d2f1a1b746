package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "ndirecv",
		Short: "ndirecv - Resilient NDI video receiver",
		Long: `ndirecv discovers NDI sources on the local network, connects to the
one matching a configurable name pattern, and keeps the connection
alive across source restarts and renames.

Features:
  • Automatic source discovery and regex-based matching
  • Automatic reconnection and fallback when a source disappears
  • Pixel format normalization to RGBA
  • WebSocket control plane with remote bridge support
  • MJPEG preview stream
  • Persistent source/lock state`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ndirecv/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "control server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("pattern", "", "source name pattern (regex)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("source_pattern", rootCmd.PersistentFlags().Lookup("pattern"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
