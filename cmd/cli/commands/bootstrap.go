package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edulution-io/installer/internal/types"
)

func init() {
	bootstrapCmd.Flags().StringP("host", "H", "", "Remote host to bootstrap")
	bootstrapCmd.Flags().IntP("port", "p", 22, "SSH port")
	bootstrapCmd.Flags().StringP("user", "u", "root", "SSH user")
	bootstrapCmd.Flags().String("password", "", "SSH password")
	bootstrapCmd.Flags().BoolP("follow", "f", false, "Follow the job output after starting")
	_ = bootstrapCmd.MarkFlagRequired("host")
	_ = bootstrapCmd.MarkFlagRequired("password")
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrap the installer onto a remote host over SSH",
	RunE: func(cmd *cobra.Command, _ []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		user, _ := cmd.Flags().GetString("user")
		password, _ := cmd.Flags().GetString("password")
		follow, _ := cmd.Flags().GetBool("follow")

		resp, err := apiClient.StartBootstrap(context.Background(), types.BootstrapRequest{
			Host:     host,
			Port:     port,
			User:     user,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("error starting bootstrap: %w", err)
		}
		fmt.Printf("Job %s started (%s)\n", resp.JobID, resp.Status)

		if follow {
			return followStream(cmd.Context(), 0)
		}
		return nil
	},
}

// GetBootstrapCmd returns the bootstrap command
func GetBootstrapCmd() *cobra.Command {
	return bootstrapCmd
}
