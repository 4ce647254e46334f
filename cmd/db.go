package cmd

import (
	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "db commands",
}

func init() {
	dbCmd.AddCommand(Migrate())
}

func Migrate() *cobra.Command {
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the app database",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.LoadConfig()
			config.SetupLogging(cfg)

			db, err := config.GetDb(cfg)
			if err != nil {
				logrus.Fatal(err)
			}
			if err := model.Migrate(db); err != nil {
				logrus.Fatal(err)
			}
			logrus.Info("app database migrated")
		},
	}

	return command
}
