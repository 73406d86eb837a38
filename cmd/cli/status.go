package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Shows the current state and result of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(serverURL)
		id := args[0]

		for {
			resp, err := client.status(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to fetch task status: %w", err)
			}
			if err := printJSON(resp); err != nil {
				return err
			}
			if !statusWatch || isTerminal(resp) {
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	},
}

func isTerminal(raw []byte) bool {
	// Cheap check against the serialized record; avoids importing the
	// server's internal types into the client.
	s := string(raw)
	return strings.Contains(s, `"state":"completed"`) || strings.Contains(s, `"state":"failed"`)
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Poll until the task reaches a terminal state")
	rootCmd.AddCommand(statusCmd)
}
