package main

import (
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/pcornish/go-tftp/internal/utils"
	"github.com/pcornish/go-tftp/pkg/client"
)

var (
	shellHost string
	shellPort string
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive TFTP shell",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func init() {
	f := shellCmd.Flags()

	f.StringVarP(&shellHost, "host", "H", "", "server host to connect to on startup")
	f.StringVarP(&shellPort, "port", "p",
		utils.GetEnv[string]("TFTP_PORT", "69", false), "server port")

	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	l := utils.NewLogger(logLevel)

	c := client.NewClient(l)

	if shellHost != "" {
		if err := c.Connect(net.JoinHostPort(shellHost, shellPort)); err != nil {
			return err
		}
	}

	return client.NewCli(l, c).Read(os.Stdin)
}
