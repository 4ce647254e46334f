package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/emrgen/storysync"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "storysync"
	configDir      = "./.tmp"
	defaultServer  = ":4030"
)

// serverAddr is set by the --server flag.
var serverAddr string

var contextCommand = &cobra.Command{
	Use:   "context",
	Short: "context commands",
}

func init() {
	contextCommand.AddCommand(setContextCommand())
	contextCommand.AddCommand(currentContextCommand())
	contextCommand.AddCommand(resetContextCommand())
}

type Context struct {
	Server string `mapstructure:"server" json:"server"`
	User   string `mapstructure:"user" json:"user"`
}

// saves the context info to the config file in ./.tmp
func setContextCommand() *cobra.Command {
	var server string
	var user string
	command := &cobra.Command{
		Use:   "set",
		Short: "set context",
		Run: func(cmd *cobra.Command, args []string) {
			if server == "" && user == "" {
				color.Red(`missing: --server or --user`)
				return
			}

			current := readContext()
			if server != "" {
				current.Server = server
			}
			if user != "" {
				current.User = user
			}

			if err := writeContext(current); err != nil {
				fmt.Println("error writing config file: ", err)
				return
			}
			fmt.Println("context saved")
		},
	}

	command.Flags().StringVarP(&server, "server", "s", "", "server address")
	command.Flags().StringVarP(&user, "user", "u", "", "user id switched to on every command")

	return command
}

func currentContextCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "current",
		Short: "current context",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := readContext()
			printField("Server", ctx.Server)
			printField("User", ctx.User)
		},
	}

	return command
}

func resetContextCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "reset",
		Short: "reset context",
		Run: func(cmd *cobra.Command, args []string) {
			if err := writeContext(Context{Server: defaultServer}); err != nil {
				fmt.Println("error writing config file: ", err)
				return
			}
			fmt.Println("context reset")
		},
	}

	return command
}

func configPath() string {
	return filepath.Join(configDir, configFileName+".yml")
}

func writeContext(context Context) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(configPath())
	v.Set("context", context)

	return v.WriteConfig()
}

func readContext() Context {
	ctx := Context{Server: defaultServer}

	if _, err := os.Stat(configPath()); os.IsNotExist(err) {
		return ctx
	}

	v := viper.New()
	v.SetConfigFile(configPath())
	if err := v.ReadInConfig(); err != nil {
		fmt.Println("error reading config file: ", err)
		return ctx
	}

	if err := v.UnmarshalKey("context", &ctx); err != nil {
		fmt.Println("error unmarshalling config file: ", err)
	}
	if ctx.Server == "" {
		ctx.Server = defaultServer
	}

	return ctx
}

// newClient connects to the server of the current context.
func newClient() (storysync.Client, Context, error) {
	ctx := readContext()
	if serverAddr != "" {
		ctx.Server = serverAddr
	}

	client, err := storysync.NewClient(ctx.Server)
	return client, ctx, err
}

func printField(label, value string) {
	color.Set(color.FgCyan)
	fmt.Print(label)
	color.Unset()
	fmt.Printf(": %s\n", value)
}
