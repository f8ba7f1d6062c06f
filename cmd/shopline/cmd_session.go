package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/shopline/internal/state"
	"github.com/user/shopline/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionResetCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage session to conversation mappings",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := sessionStore().List(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tPLATFORM\tCONVERSATION\tLAST ACTIVE")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.SessionKey,
				s.SessionKey.Platform(),
				s.ConversationID,
				s.UpdatedAt.Local().Format(time.DateTime),
			)
		}
		return w.Flush()
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Forget a session's conversation so its next message starts fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := types.SessionKey(args[0])
		if !strings.Contains(string(key), ":") {
			return fmt.Errorf("session key %q must look like platform:id", key)
		}
		if err := sessionStore().Reset(context.Background(), key); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset; its next message opens a new conversation.\n", key)
		return nil
	},
}

// sessionStore opens the session index under the configured data dir.
func sessionStore() *state.SessionStore {
	return state.NewSessionStore(loadConfig().DataDir)
}
