package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pcornish/go-tftp/internal/utils"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "tftp",
	Short:         "TFTP client and server with blksize, windowsize, timeout and tsize negotiation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		utils.GetEnv[string]("TFTP_LOG_LEVEL", "info", false),
		"log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		utils.NewLogger(logLevel).Error(err.Error())
		os.Exit(1)
	}
}
