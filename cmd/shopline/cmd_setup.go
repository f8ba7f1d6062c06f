package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/shopline/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Shopline Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println("Leave the API key empty to run with canned replies.")
		fmt.Println()

		cfg.LLM.BaseURL = ask(scanner, "Engine base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = askSecret(scanner, "Engine API key", cfg.LLM.APIKey)
		if cfg.LLM.APIKey != "" {
			cfg.LLM.AssistantID = ask(scanner, "Assistant ID", cfg.LLM.AssistantID)
		}
		cfg.LLM.Model = ask(scanner, "Model name", cfg.LLM.Model)
		cfg.Telegram.Token = askSecret(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.HTTP.Listen = ask(scanner, "HTTP listen address", cfg.HTTP.Listen)
		cfg.Catalog.Path = ask(scanner, "Catalog database (empty for data dir)", cfg.Catalog.Path)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// ask prints label with the current value in brackets and returns the
// trimmed input, or current when the input is empty.
func ask(scanner *bufio.Scanner, label, current string) string {
	return read(scanner, label, current, current)
}

// askSecret is ask with the current value masked in the prompt.
func askSecret(scanner *bufio.Scanner, label, current string) string {
	shown := ""
	if current != "" {
		shown = "***" + current[max(0, len(current)-4):]
	}
	return read(scanner, label, shown, current)
}

func read(scanner *bufio.Scanner, label, shown, current string) string {
	if shown != "" {
		label = fmt.Sprintf("%s [%s]", label, shown)
	}
	fmt.Print(label, ": ")
	if !scanner.Scan() {
		return current
	}
	if input := strings.TrimSpace(scanner.Text()); input != "" {
		return input
	}
	return current
}
