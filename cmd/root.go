package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "storysync",
	Short: "story database sync tool",
	Example: `storysync serve
storysync status
storysync story list
storysync story create -t <title>
storysync story delete -s <story-id>
storysync sync pull
storysync index rebuild --force
storysync context set --server <addr> --user <user-id>`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(contextCommand)
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(storyCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "server address, overrides the saved context")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
