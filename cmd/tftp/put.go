package main

import (
	"net"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pcornish/go-tftp/internal/utils"
	"github.com/pcornish/go-tftp/pkg/client"
)

var (
	putHost       string
	putPort       string
	putBlksize    uint
	putWindowsize uint
	putTimeout    uint
	putRetries    uint
)

var putCmd = &cobra.Command{
	Use:   "put <local> [remote]",
	Short: "Upload a file to a TFTP server",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPut,
}

func init() {
	f := putCmd.Flags()

	f.StringVarP(&putHost, "host", "H",
		utils.GetEnv[string]("TFTP_HOST", "127.0.0.1", false), "server host")
	f.StringVarP(&putPort, "port", "p",
		utils.GetEnv[string]("TFTP_PORT", "69", false), "server port")
	f.UintVarP(&putBlksize, "blksize", "b", 512, "block size to request")
	f.UintVarP(&putWindowsize, "windowsize", "w", 1, "window size to request")
	f.UintVar(&putTimeout, "timeout",
		utils.GetEnv[uint]("TFTP_TIMEOUT", "5", false), "per-packet timeout in seconds")
	f.UintVar(&putRetries, "retries",
		utils.GetEnv[uint]("TFTP_NUM_TRIES", "5", false), "retransmissions before giving up")

	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	l := utils.NewLogger(logLevel)

	c := client.NewClient(l)
	c.SetBlockSize(putBlksize)
	c.SetWindowSize(putWindowsize)
	c.SetTimeout(putTimeout)
	c.SetRetries(putRetries)

	if err := c.Connect(net.JoinHostPort(putHost, putPort)); err != nil {
		return err
	}

	remote := filepath.Base(args[0])
	if len(args) == 2 {
		remote = args[1]
	}

	return c.Put(args[0], remote)
}
