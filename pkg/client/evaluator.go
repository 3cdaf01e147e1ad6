package client

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	getRegex        = `^get\s+(\S+)(?:\s+(\S+))?$`
	putRegex        = `^put\s+(\S+)(?:\s+(\S+))?$`
	timeoutRegex    = `^timeout\s+(\d+)$`
	blksizeRegex    = `^blksize\s+(\d+)$`
	windowsizeRegex = `^windowsize\s+(\d+)$`
	retriesRegex    = `^retries\s+(\d+)$`
	connectRegex    = `^connect\s+(\S+)\s+(\S+)$`
	traceRegex      = `^trace$`
	quitRegex       = `^quit$`
	helpRegex       = `^help$`
)

type Evaluator struct {
	l             *zap.SugaredLogger
	client        Connector
	line          string
	regexPatterns map[string]*regexp.Regexp
}

func NewEvaluator(l *zap.SugaredLogger, client Connector) *Evaluator {
	e := &Evaluator{
		l:      l,
		client: client,
	}

	e.regexPatterns = make(map[string]*regexp.Regexp)

	e.regexPatterns["get"] = regexp.MustCompile(getRegex)
	e.regexPatterns["put"] = regexp.MustCompile(putRegex)
	e.regexPatterns["timeout"] = regexp.MustCompile(timeoutRegex)
	e.regexPatterns["blksize"] = regexp.MustCompile(blksizeRegex)
	e.regexPatterns["windowsize"] = regexp.MustCompile(windowsizeRegex)
	e.regexPatterns["retries"] = regexp.MustCompile(retriesRegex)
	e.regexPatterns["connect"] = regexp.MustCompile(connectRegex)
	e.regexPatterns["trace"] = regexp.MustCompile(traceRegex)
	e.regexPatterns["quit"] = regexp.MustCompile(quitRegex)
	e.regexPatterns["help"] = regexp.MustCompile(helpRegex)

	return e
}

func (e *Evaluator) evaluate() (bool, error) {
	e.line = strings.TrimSpace(e.line)

	if matches := e.regexPatterns["get"].FindStringSubmatch(e.line); len(matches) == 3 {
		local := matches[2]
		if local == "" {
			local = matches[1]
		}

		return false, e.client.Get(matches[1], local)
	}

	if matches := e.regexPatterns["put"].FindStringSubmatch(e.line); len(matches) == 3 {
		remote := matches[2]
		if remote == "" {
			remote = matches[1]
		}

		return false, e.client.Put(matches[1], remote)
	}

	if matches := e.regexPatterns["timeout"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil {
			return false, fmt.Errorf("timeout value can not be parsed: %w", err)
		}

		e.client.SetTimeout(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["blksize"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil {
			return false, fmt.Errorf("blksize value can not be parsed: %w", err)
		}

		e.client.SetBlockSize(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["windowsize"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil {
			return false, fmt.Errorf("windowsize value can not be parsed: %w", err)
		}

		e.client.SetWindowSize(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["retries"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil {
			return false, fmt.Errorf("retries value can not be parsed: %w", err)
		}

		e.client.SetRetries(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["connect"].FindStringSubmatch(e.line); len(matches) == 3 {
		return false, e.client.Connect(fmt.Sprintf("%s:%s", matches[1], matches[2]))
	}

	if matches := e.regexPatterns["trace"].FindStringSubmatch(e.line); len(matches) == 1 {
		e.client.SetTrace()

		return false, nil
	}

	if matches := e.regexPatterns["help"].FindStringSubmatch(e.line); len(matches) == 1 {
		fmt.Println(`Commands:
	connect <host> <port>
	get <remote> [local]
	put <local> [remote]
	blksize <integer>
	windowsize <integer>
	timeout <integer>
	retries <integer>
	trace
	quit`)

		return false, nil
	}

	if matches := e.regexPatterns["quit"].FindStringSubmatch(e.line); len(matches) == 1 {
		return true, nil
	}

	return false, fmt.Errorf("unknown command: %s", e.line)
}
