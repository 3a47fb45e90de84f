package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edulution-io/installer/internal/types"
)

func init() {
	playbookCmd.AddCommand(startPlaybookCmd)
	playbookCmd.AddCommand(requirementsCmd)

	startPlaybookCmd.Flags().StringP("playbook", "p", "", "Playbook file name to run")
	startPlaybookCmd.Flags().StringArrayP("extra-var", "e", nil, "Extra variable as key=value (repeatable)")
	startPlaybookCmd.Flags().BoolP("follow", "f", false, "Follow the job output after starting")
	_ = startPlaybookCmd.MarkFlagRequired("playbook")

	requirementsCmd.Flags().StringP("playbook", "p", "", "Playbook file name to check")
	_ = requirementsCmd.MarkFlagRequired("playbook")
}

var playbookCmd = &cobra.Command{
	Use:   "playbook",
	Short: "Run playbooks and check their requirements",
}

var startPlaybookCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a playbook job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		playbook, _ := cmd.Flags().GetString("playbook")
		rawVars, _ := cmd.Flags().GetStringArray("extra-var")
		follow, _ := cmd.Flags().GetBool("follow")

		extraVars := make(map[string]string, len(rawVars))
		for _, raw := range rawVars {
			key, value, ok := strings.Cut(raw, "=")
			if !ok {
				return fmt.Errorf("invalid extra-var %q, expected key=value", raw)
			}
			extraVars[key] = value
		}

		resp, err := apiClient.StartPlaybook(context.Background(), types.PlaybookStartRequest{
			Playbook:  playbook,
			ExtraVars: extraVars,
		})
		if err != nil {
			return fmt.Errorf("error starting playbook: %w", err)
		}
		fmt.Printf("Job %s started (%s)\n", resp.JobID, resp.Status)

		if follow {
			return followStream(cmd.Context(), 0)
		}
		return nil
	},
}

var requirementsCmd = &cobra.Command{
	Use:   "requirements",
	Short: "Check the host against a playbook's requirements",
	RunE: func(cmd *cobra.Command, _ []string) error {
		playbook, _ := cmd.Flags().GetString("playbook")

		result, err := apiClient.GetRequirements(context.Background(), playbook)
		if err != nil {
			return fmt.Errorf("error fetching requirements: %w", err)
		}

		for _, check := range result.Checks {
			fmt.Printf("[%s] %s: %s\n", check.Status, check.Name, check.Message)
		}
		if !result.AllPassed {
			return fmt.Errorf("requirement checks failed")
		}
		fmt.Println("All requirement checks passed")
		return nil
	},
}

// GetPlaybookCmd returns the playbook command
func GetPlaybookCmd() *cobra.Command {
	return playbookCmd
}
