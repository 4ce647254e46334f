package cmd

import (
	"context"
	"strconv"

	"github.com/emrgen/storysync"
	"github.com/emrgen/storysync/internal/transfer"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "manual transfer commands",
}

func init() {
	syncCmd.AddCommand(transferCmd("push", "upload every local document to the server", storysync.Client.Push))
	syncCmd.AddCommand(transferCmd("pull", "download every server document", storysync.Client.Pull))
}

func transferCmd(use, short string, run func(storysync.Client, context.Context) (*transfer.Result, error)) *cobra.Command {
	command := &cobra.Command{
		Use:   use,
		Short: short,
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

			res, err := run(client, ctx)
			if err != nil {
				color.Red("%s failed: %v", use, err)
				return
			}

			printField("Direction", string(res.Direction))
			printField("Docs written", strconv.Itoa(res.DocsWritten))
			printField("Duration", res.Duration.String())
			if res.AuditID != "" {
				printField("Audit", res.AuditID)
			}
		},
	}

	return command
}
