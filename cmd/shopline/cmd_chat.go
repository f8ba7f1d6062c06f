package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/shopline/internal/gateway"
	"github.com/user/shopline/internal/types"
)

var (
	chatSession  string
	chatLanguage string
	chatName     string
	chatUserType string
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session", "local", "session key (prefixed with cli:)")
	chatCmd.Flags().StringVar(&chatLanguage, "lang", "en", "customer language code")
	chatCmd.Flags().StringVar(&chatName, "name", "", "customer name")
	chatCmd.Flags().StringVar(&chatUserType, "user-type", "", "customer type (returning, wholesale)")
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message through the gateway and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rc := gateway.Context{
			Language:     chatLanguage,
			CustomerName: chatName,
			UserType:     chatUserType,
		}
		key := types.NewSessionKey("cli", chatSession)
		reply, err := a.chat.Send(context.Background(), key, strings.Join(args, " "), rc)
		if err != nil {
			fmt.Fprintln(os.Stdout, gateway.FallbackMessage(err, chatLanguage))
			return err
		}

		fmt.Fprintln(os.Stdout, reply.Text)
		for _, e := range reply.SideEffects {
			switch e.Type {
			case types.SideEffectSendImage:
				fmt.Fprintf(os.Stdout, "[image] %s %s\n", e.ImageURL, e.Caption)
			default:
				fmt.Fprintf(os.Stdout, "[%s]\n", e.Type)
			}
		}
		return nil
	},
}
