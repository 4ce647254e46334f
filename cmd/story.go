package cmd

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "story commands",
}

func init() {
	storyCmd.AddCommand(listStoryCmd())
	storyCmd.AddCommand(createStoryCmd())
	storyCmd.AddCommand(deleteStoryCmd())
}

func listStoryCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "list",
		Short: "list stories from the metadata index",
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

			stories, err := client.ListStories(ctx)
			if err != nil {
				color.Red("error: %v", err)
				return
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Title", "Chapters", "Scenes", "Words", "Updated"})
			for _, story := range stories {
				table.Append([]string{
					story.ID,
					story.Title,
					strconv.Itoa(story.ChapterCount),
					strconv.Itoa(story.SceneCount),
					strconv.Itoa(story.WordCount),
					story.UpdatedAt.Format(time.DateTime),
				})
			}
			table.Render()
		},
	}

	return command
}

func createStoryCmd() *cobra.Command {
	var title string

	command := &cobra.Command{
		Use:   "create",
		Short: "create a story",
		Run: func(cmd *cobra.Command, args []string) {
			if !checkMissingFlags(map[string]string{"--title": title}) {
				return
			}

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

			story, err := client.CreateStory(ctx, title)
			if err != nil {
				color.Red("error: %v", err)
				return
			}

			printField("ID", story.ID)
			printField("Title", story.Title)
			printField("Rev", story.Rev)
		},
	}

	command.Flags().StringVarP(&title, "title", "t", "", "story title")

	return command
}

func deleteStoryCmd() *cobra.Command {
	var storyID string

	command := &cobra.Command{
		Use:   "delete",
		Short: "delete a story with its codex and side documents",
		Run: func(cmd *cobra.Command, args []string) {
			if !checkMissingFlags(map[string]string{"--story-id": storyID}) {
				return
			}

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

			if err := client.DeleteStory(ctx, storyID); err != nil {
				color.Red("error: %v", err)
				return
			}
			color.Green("story %s deleted", storyID)
		},
	}

	command.Flags().StringVarP(&storyID, "story-id", "s", "", "story id")

	return command
}

func checkMissingFlags(flags map[string]string) bool {
	missing := make([]string, 0)
	for name, value := range flags {
		if value == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		color.Red("missing flags: %v", missing)
		return false
	}

	return true
}
