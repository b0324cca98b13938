package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "jobtracker",
	Short: "Job tracker service for dock delivery operations",
	Long: `A service that imports FileMaker job exports, reconciles them against
the previous snapshot, tracks product reschedule chains, and exposes
delivery KPIs over a read API.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing the config file")
}
