package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/shopline/internal/config"
)

var showSecrets bool

// restartKeys are the sections read once at daemon start.
var restartKeys = map[string]bool{
	"llm":         true,
	"gateway":     true,
	"telegram":    true,
	"http":        true,
	"catalog":     true,
	"maintenance": true,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configListCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credentials unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		values, err := config.ListValues(cfg, !showSecrets)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, k := range slices.Sorted(maps.Keys(values)) {
			fmt.Fprintf(out, "%-34s %v\n", k, values[k])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		shown := config.MaskSecrets(map[string]any{args[0]: args[1]})[args[0]]
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], shown)
		if restartKeys[strings.SplitN(args[0], ".", 2)[0]] {
			fmt.Fprintln(cmd.OutOrStdout(), "Restart the daemon (shopline restart) to apply.")
		}
		return nil
	},
}
