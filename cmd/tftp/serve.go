package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcornish/go-tftp/internal/utils"
	"github.com/pcornish/go-tftp/pkg/server"
)

var (
	serveAddress string
	servePort    string
	serveDir     string
	receiveDir   string
	sendDir      string
	singlePort   bool
	readOnly     bool
	overwrite    bool
	serveRetries uint
	serveTimeout uint
	maxFileSize  int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TFTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()

	f.StringVarP(&serveAddress, "address", "a",
		utils.GetEnv[string]("TFTP_ADDRESS", "0.0.0.0", false), "address to listen on")
	f.StringVarP(&servePort, "port", "p",
		utils.GetEnv[string]("TFTP_PORT", "69", false), "port to listen on")
	f.StringVarP(&serveDir, "dir", "d",
		utils.GetEnv[string]("TFTP_DIR", ".", false), "directory served for reads and writes")
	f.StringVar(&receiveDir, "receive-dir", "", "directory for uploads (defaults to --dir)")
	f.StringVar(&sendDir, "send-dir", "", "directory for downloads (defaults to --dir)")
	f.BoolVar(&singlePort, "single-port", false, "run every transfer on the listening port")
	f.BoolVar(&readOnly, "read-only", false, "reject all write requests")
	f.BoolVar(&overwrite, "overwrite", true, "allow uploads to replace existing files")
	f.UintVar(&serveRetries, "retries",
		utils.GetEnv[uint]("TFTP_NUM_TRIES", "5", false), "retransmissions before a transfer is abandoned")
	f.UintVar(&serveTimeout, "timeout",
		utils.GetEnv[uint]("TFTP_TIMEOUT", "5", false), "per-packet timeout in seconds")
	f.Int64Var(&maxFileSize, "max-size", 0, "reject uploads announcing more bytes (0 = unlimited)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	l := utils.NewLogger(logLevel)

	if receiveDir == "" {
		receiveDir = serveDir
	}

	if sendDir == "" {
		sendDir = serveDir
	}

	cfg := server.DefaultConfig()
	cfg.Address = serveAddress
	cfg.Port = servePort
	cfg.ReceiveDir = receiveDir
	cfg.SendDir = sendDir
	cfg.SinglePort = singlePort
	cfg.ReadOnly = readOnly
	cfg.Overwrite = overwrite
	cfg.MaxFileSize = maxFileSize
	cfg.Retries = int(serveRetries)
	cfg.Timeout = time.Duration(serveTimeout) * time.Second

	s := server.NewServer(l, cfg)

	if err := s.Listen(); err != nil {
		return err
	}

	go func() {
		if err := s.Serve(); err != nil {
			l.Error(err.Error())
		}
	}()

	l.Infof("listening on %s", s.Addr())
	l.Infof("serving %s (read-only=%t, single-port=%t)", sendDir, readOnly, singlePort)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan

	if err := s.Close(); err != nil {
		return err
	}

	l.Info("server stopped")

	return nil
}
