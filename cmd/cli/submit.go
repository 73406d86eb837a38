package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitKind    string
	submitFile    string
	submitPayload string
	submitSync    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submits an incident or ticket for processing",
	Long: `Submits a task to the triage agent. The payload is read from --payload
or from a JSON file given with --file. Submitting the same payload twice
resolves to the same task id.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		payload, err := loadPayload()
		if err != nil {
			return err
		}

		client := newAPIClient(serverURL)
		resp, err := client.submit(cmd.Context(), submitKind, payload, submitSync)
		if err != nil {
			return fmt.Errorf("failed to submit task: %w", err)
		}
		return printJSON(resp)
	},
}

func loadPayload() (json.RawMessage, error) {
	if submitPayload != "" && submitFile != "" {
		return nil, fmt.Errorf("--payload and --file are mutually exclusive")
	}

	var raw []byte
	switch {
	case submitPayload != "":
		raw = []byte(submitPayload)
	case submitFile != "":
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		raw = data
	default:
		return nil, fmt.Errorf("either --payload or --file is required")
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	submitCmd.Flags().StringVarP(&submitKind, "kind", "k", "summarize", "Task kind: summarize, triage, rca, or chat")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Path to a JSON payload file")
	submitCmd.Flags().StringVarP(&submitPayload, "payload", "p", "", "Inline JSON payload")
	submitCmd.Flags().BoolVar(&submitSync, "sync", false, "Wait for the result instead of returning a handle")
	rootCmd.AddCommand(submitCmd)
}
