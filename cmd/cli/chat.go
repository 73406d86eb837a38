package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatConversationID string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Asks the agent a free-form question",
	Long: `Sends a chat message to the agent and waits for the response. With no
argument an interactive prompt is started; messages in the same session
share a conversation id so the agent can keep context.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatConversationID == "" {
			chatConversationID = uuid.NewString()
		}
		client := newAPIClient(serverURL)

		if len(args) == 1 {
			return sendChatMessage(cmd, client, args[0])
		}

		fmt.Printf("Chat session %s (empty line to quit)\n", chatConversationID)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			msg := strings.TrimSpace(scanner.Text())
			if msg == "" {
				return nil
			}
			if err := sendChatMessage(cmd, client, msg); err != nil {
				return err
			}
		}
	},
}

func sendChatMessage(cmd *cobra.Command, client *apiClient, message string) error {
	payload, err := json.Marshal(map[string]string{
		"message":         message,
		"conversation_id": chatConversationID,
	})
	if err != nil {
		return err
	}

	resp, err := client.submit(cmd.Context(), "chat", payload, true)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	return printJSON(resp)
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	chatCmd.Flags().StringVar(&chatConversationID, "conversation-id", "", "Reuse an existing conversation id")
	rootCmd.AddCommand(chatCmd)
}
