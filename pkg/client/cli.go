package client

import (
	"bufio"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Cli runs the interactive shell: read a line, dispatch it through
// the evaluator, repeat until quit or end of input.
type Cli struct {
	l          *zap.SugaredLogger
	tftpClient Connector
}

func NewCli(l *zap.SugaredLogger, tftpClient Connector) *Cli {
	return &Cli{l: l, tftpClient: tftpClient}
}

func (c *Cli) Read(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	evaluator := NewEvaluator(c.l, c.tftpClient)

	c.prompt()

	for scanner.Scan() {
		evaluator.line = scanner.Text()

		done, err := evaluator.evaluate()
		if err != nil {
			c.l.Error(err.Error())
		}

		if done {
			return nil
		}

		c.prompt()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error while reading input: %w", err)
	}

	return nil
}

// prompt shows the connected server so a session hopping between
// servers stays readable.
func (c *Cli) prompt() {
	if target := c.tftpClient.Target(); target != "" {
		fmt.Printf("tftp (%s)> ", target)

		return
	}

	fmt.Print("tftp> ")
}
