package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "metadata index commands",
}

func init() {
	indexCmd.AddCommand(rebuildIndexCmd())
}

func rebuildIndexCmd() *cobra.Command {
	var force bool

	command := &cobra.Command{
		Use:   "rebuild",
		Short: "rebuild the metadata index from local stories",
		Run: func(cmd *cobra.Command, args []string) {
			client, current, err := newClient()
			if err != nil {
				color.Red("error: %v", err)
				return
			}
			defer client.Close()

			ctx := context.Background()
			if err := switchUser(ctx, client, current); err != nil {
				color.Red("error: %v", err)
				return
			}

			index, err := client.RebuildIndex(ctx, force)
			if err != nil {
				color.Red("error: %v", err)
				return
			}

			printField("Rev", index.Rev)
			printField("Stories", strconv.Itoa(len(index.Stories)))
			printField("Last updated", index.LastUpdated.Format(time.RFC3339))
		},
	}

	command.Flags().BoolVarP(&force, "force", "f", false, "write the index even when no stories are local")

	return command
}
