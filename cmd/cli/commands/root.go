package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edulution-io/installer/internal/api/v1/client"
	routes "github.com/edulution-io/installer/internal/api/v1/routes"
)

// flag names
const (
	flagServerAddress = "server-address"
)

// environment variable names
const (
	envServerAddress = "INSTALLER_SERVER_ADDRESS"
)

var (
	// apiClient is the shared API client instance
	apiClient client.Client
	// serverAddress holds the target API server address. Flag parsing sets this.
	serverAddress string
)

// initClient initializes the API client
func initClient() error {
	var err error
	opts := client.DefaultOptions()
	opts.BaseURL = serverAddress

	apiClient, err = client.NewClient(opts)
	return err
}

func init() {
	// Set a basic default for the flag. PersistentPreRunE handles the env
	// var override.
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", routes.DefaultBaseURL, "Address of the installer API server (env: INSTALLER_SERVER_ADDRESS)")

	RootCmd.AddCommand(GetStatusCmd())
	RootCmd.AddCommand(GetPlaybookCmd())
	RootCmd.AddCommand(GetBootstrapCmd())
	RootCmd.AddCommand(GetLogsCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "installer",
	Short: "Installer CLI - a command line interface for the edulution installer API",
	Long: `Installer CLI drives the edulution web installer from the terminal: it starts
bootstrap and playbook jobs, inspects their status and follows their output.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Flag > env var > default.
		if !cmd.Flags().Changed(flagServerAddress) {
			if envAddr := os.Getenv(envServerAddress); envAddr != "" {
				serverAddress = envAddr
			}
		}

		if serverAddress == "" {
			return fmt.Errorf("server address cannot be empty")
		}
		return initClient()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return RootCmd.Execute()
}
