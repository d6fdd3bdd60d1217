package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "EUFYBRIDGE_CONFIG"

// newRootCmd builds the command tree. Running the binary without a
// subcommand runs the bridge.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "eufybridge",
		Short: "Eufy Security to MQTT bridge",
		Long: `eufybridge keeps Eufy Security devices in sync with an MQTT broker.

Device state is published as retained topics with Home Assistant discovery,
and commands published on {prefix}/{serial}/{command}/set are forwarded to
the stations on the local network.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default is $"+configEnvVar+" or "+defaultConfigPath+")")

	resolve := func() string { return getConfigPath(configPath) }
	root.AddCommand(
		newRunCmd(resolve),
		newDevicesCmd(resolve),
		newMigrateCmd(resolve),
		newHashPasswordCmd(),
		newTokenCmd(resolve),
		newVersionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path: the --config flag,
// then EUFYBRIDGE_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
