package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edulution-io/installer/internal/api/v1/client"
)

func init() {
	logsCmd.Flags().Uint64P("cursor", "c", 0, "Event id to start replay from")
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Replay and follow the current job's output",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cursor, _ := cmd.Flags().GetUint64("cursor")
		return followStream(cmd.Context(), cursor)
	},
}

// followStream tails the SSE stream until the job reaches a terminal state,
// resuming from the last seen event if the connection drops.
func followStream(ctx context.Context, cursor uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		next, err := apiClient.StreamEvents(ctx, cursor, printEvent)
		if err != nil {
			// Reconnect from where we left off; the server replays
			// without gaps or duplicates.
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("stream interrupted (%v), reconnecting from %d\n", err, next)
			cursor = next
			continue
		}
		return nil
	}
}

func printEvent(ev client.StreamEvent) {
	switch ev.Kind {
	case "":
		fmt.Println(ev.Data)
	default:
		fmt.Printf("[%s] %s\n", ev.Kind, ev.Data)
	}
}

// GetLogsCmd returns the logs command
func GetLogsCmd() *cobra.Command {
	return logsCmd
}
