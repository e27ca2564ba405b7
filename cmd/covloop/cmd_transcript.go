package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/conversation"
)

func newTranscriptCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "transcript FILE",
		Short: "Print a persisted conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := conversation.Load(args[0])
			if err != nil {
				return err
			}
			if role != "" {
				r := conversation.Role(role)
				if !r.Valid() {
					return fmt.Errorf("unknown role %q", role)
				}
				filtered := messages[:0]
				for _, m := range messages {
					if m.Role == r {
						filtered = append(filtered, m)
					}
				}
				messages = filtered
			}
			fmt.Fprintln(cmd.OutOrStdout(), conversation.Render(messages))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only print messages from this role (system, user, assistant)")
	return cmd
}
