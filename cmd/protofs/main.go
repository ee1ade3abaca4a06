package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:   "protofs",
	Short: "Create, inspect and interact with protofs filesystem images",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		if flagDebug {
			log.SetLevel(logrus.DebugLevel)
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(dfCmd)
	rootCmd.AddCommand(populateCmd)
	rootCmd.AddCommand(shellCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
