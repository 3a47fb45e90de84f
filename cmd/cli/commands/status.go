package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current job status",
	RunE: func(_ *cobra.Command, _ []string) error {
		snap, err := apiClient.GetStatus(context.Background())
		if err != nil {
			return fmt.Errorf("error fetching status: %w", err)
		}

		prettyJSON, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("error formatting response: %w", err)
		}
		fmt.Println(string(prettyJSON))
		return nil
	},
}

// GetStatusCmd returns the status command
func GetStatusCmd() *cobra.Command {
	return statusCmd
}
