package cmd

import (
	"context"

	"github.com/emrgen/storysync/internal/app"
	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port string

	command := &cobra.Command{
		Use:   "serve",
		Short: "run the sync server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.LoadConfig()
			config.SetupLogging(cfg)
			if port != "" {
				cfg.HTTPPort = port
			}
			if err := cfg.Validate(); err != nil {
				logrus.Fatalf("invalid configuration: %v", err)
			}

			a, err := app.New(cfg)
			if err != nil {
				logrus.Fatalf("error starting: %v", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					logrus.Errorf("error closing: %v", err)
				}
			}()

			if err := a.Start(context.Background()); err != nil {
				logrus.Errorf("error starting: %v", err)
				return
			}

			if err := server.NewServer(a, cfg.HTTPPort).Start(); err != nil {
				logrus.Errorf("error running server: %v", err)
			}
		},
	}

	command.Flags().StringVarP(&port, "port", "p", "", "http port, defaults to HTTP_PORT")

	return command
}
