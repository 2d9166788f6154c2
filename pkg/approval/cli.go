package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// CLIHandler prompts for approval on a terminal.
type CLIHandler struct {
	reader    *bufio.Reader
	writer    io.Writer
	allowlist *Allowlist
	mu        sync.Mutex
}

// NewCLIHandler creates a terminal handler. allowlist may be nil, in which
// case "always" answers approve only once.
func NewCLIHandler(reader io.Reader, writer io.Writer, allowlist *Allowlist) *CLIHandler {
	return &CLIHandler{
		reader:    bufio.NewReader(reader),
		writer:    writer,
		allowlist: allowlist,
	}
}

type lineResult struct {
	line string
	err  error
}

// RequestApproval prompts the user and waits for an answer or ctx.
func (c *CLIHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.displayRequest(req)

	lineCh := make(chan lineResult, 1)
	go func() {
		line, err := c.reader.ReadString('\n')
		lineCh <- lineResult{line: line, err: err}
	}()

	select {
	case res := <-lineCh:
		if res.err != nil && res.err != io.EOF {
			return Response{}, fmt.Errorf("failed to read input: %w", res.err)
		}
		if res.err == io.EOF && res.line == "" {
			return Response{Approved: false, Reason: "no input provided"}, nil
		}
		return c.parseAnswer(req, res.line)

	case <-ctx.Done():
		fmt.Fprintln(c.writer, "")
		fmt.Fprintln(c.writer, "  Approval request TIMED OUT")
		fmt.Fprintln(c.writer, "")
		return Response{Approved: false, Reason: "timeout"}, ctx.Err()
	}
}

func (c *CLIHandler) displayRequest(req Request) {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "==================================================================")
	fmt.Fprintln(c.writer, "  ACTION APPROVAL REQUIRED")
	fmt.Fprintln(c.writer, "==================================================================")
	fmt.Fprintf(c.writer, "  Action:     %s\n", req.ActionName)

	if req.Category != "" {
		fmt.Fprintf(c.writer, "  Category:   %s\n", req.Category)
	}
	if req.Detail != "" {
		fmt.Fprintf(c.writer, "  Detail:     %s\n", req.Detail)
	}
	if req.Params.Len() > 0 {
		fmt.Fprintln(c.writer, "  Params:")
		for _, name := range req.Params.Order {
			value, _ := req.Params.Get(name)
			fmt.Fprintf(c.writer, "    %s: %s\n", name, value)
		}
	}

	fmt.Fprintln(c.writer, "")
	fmt.Fprint(c.writer, "  Approve this action? [y/N/a(lways)]: ")
}

func (c *CLIHandler) parseAnswer(req Request, line string) (Response, error) {
	input := strings.TrimSpace(strings.ToLower(line))

	switch input {
	case "y", "yes":
		fmt.Fprintln(c.writer, "  APPROVED")
		log.Info().Str("action", req.ActionName).Msg("Action approved via CLI")
		return Response{Approved: true, Reason: "approved by user"}, nil

	case "a", "always":
		if err := allowAlways(c.allowlist, req.ActionName, "cli"); err != nil {
			return Response{}, err
		}
		fmt.Fprintln(c.writer, "  APPROVED (always)")
		log.Info().Str("action", req.ActionName).Msg("Action approved always via CLI")
		return Response{Approved: true, Reason: "approved always by user"}, nil

	case "n", "no", "":
		fmt.Fprintln(c.writer, "  DENIED")
		log.Info().Str("action", req.ActionName).Msg("Action denied via CLI")
		return Response{Approved: false, Reason: "denied by user"}, nil

	default:
		fmt.Fprintf(c.writer, "  Invalid input: %s (defaulting to DENY)\n", input)
		log.Warn().
			Str("action", req.ActionName).
			Str("input", input).
			Msg("Invalid input for approval")
		return Response{Approved: false, Reason: fmt.Sprintf("invalid input: %s", input)}, nil
	}
}
