package main

import (
	"net"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pcornish/go-tftp/internal/utils"
	"github.com/pcornish/go-tftp/pkg/client"
)

var (
	getHost       string
	getPort       string
	getBlksize    uint
	getWindowsize uint
	getTimeout    uint
	getRetries    uint
)

var getCmd = &cobra.Command{
	Use:   "get <remote> [local]",
	Short: "Download a file from a TFTP server",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGet,
}

func init() {
	f := getCmd.Flags()

	f.StringVarP(&getHost, "host", "H",
		utils.GetEnv[string]("TFTP_HOST", "127.0.0.1", false), "server host")
	f.StringVarP(&getPort, "port", "p",
		utils.GetEnv[string]("TFTP_PORT", "69", false), "server port")
	f.UintVarP(&getBlksize, "blksize", "b", 512, "block size to request")
	f.UintVarP(&getWindowsize, "windowsize", "w", 1, "window size to request")
	f.UintVar(&getTimeout, "timeout",
		utils.GetEnv[uint]("TFTP_TIMEOUT", "5", false), "per-packet timeout in seconds")
	f.UintVar(&getRetries, "retries",
		utils.GetEnv[uint]("TFTP_NUM_TRIES", "5", false), "retransmissions before giving up")

	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	l := utils.NewLogger(logLevel)

	c := client.NewClient(l)
	c.SetBlockSize(getBlksize)
	c.SetWindowSize(getWindowsize)
	c.SetTimeout(getTimeout)
	c.SetRetries(getRetries)

	if err := c.Connect(net.JoinHostPort(getHost, getPort)); err != nil {
		return err
	}

	local := filepath.Base(args[0])
	if len(args) == 2 {
		local = args[1]
	}

	return c.Get(args[0], local)
}
