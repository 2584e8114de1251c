package cmd

import (
	"log"

	"github.com/jhcourtney/lectern/lectern"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Lectern bot and admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := lectern.New(cfg)
			if err != nil {
				log.Fatalf("error creating lectern: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running lectern: %s", err.Error())
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
