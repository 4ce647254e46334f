package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/emrgen/storysync"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "status",
		Short: "show sync status",
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

			res, err := client.Status(ctx)
			if err != nil {
				color.Red("error: %v", err)
				return
			}

			printField("Server", current.Server)
			printField("User", res.User)
			printField("Database", res.Database)
			printField("State", string(res.State))
			printField("Online", strconv.FormatBool(res.Status.IsOnline))
			if res.ActiveStory != "" {
				printField("Active story", res.ActiveStory)
			}
			if res.Paused > 0 {
				printField("Paused", strconv.Itoa(res.Paused))
			}
			if res.Status.LastSync != nil {
				printField("Last sync", res.Status.LastSync.Format(time.RFC3339))
			}
			if p := res.Status.SyncProgress; p != nil && res.Status.IsSync {
				progress := fmt.Sprintf("%s, %d processed", p.Direction, p.DocsProcessed)
				if p.PendingDocs != nil {
					progress += fmt.Sprintf(", %d pending", *p.PendingDocs)
				}
				printField("Progress", progress)
			}
			if res.Status.Error != "" {
				color.Red("Error: %s", res.Status.Error)
			}
		},
	}

	command.AddCommand(auditCmd())

	return command
}

func auditCmd() *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "audit",
		Short: "show recent manual sync operations",
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

			logs, err := client.AuditLog(ctx, limit)
			if err != nil {
				color.Red("error: %v", err)
				return
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Started", "Operation", "Database", "Status", "Docs", "Duration", "Error"})
			for _, log := range logs {
				table.Append([]string{
					log.StartedAt.Format(time.DateTime),
					log.Operation,
					log.Database,
					string(log.Status),
					strconv.Itoa(log.DocsTransferred),
					(time.Duration(log.DurationMs) * time.Millisecond).String(),
					log.Error,
				})
			}
			table.Render()
		},
	}

	command.Flags().IntVarP(&limit, "limit", "l", 20, "max number of entries")

	return command
}

// switchUser opens the saved user's database before running a command.
func switchUser(ctx context.Context, client storysync.Client, current Context) error {
	if current.User == "" {
		return nil
	}
	_, err := client.SwitchUser(ctx, current.User)
	return err
}
