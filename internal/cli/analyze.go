package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"TopicPulse/internal/app"
	"TopicPulse/internal/domain"
	"TopicPulse/internal/logging"
)

const cliSession = "cli"

type analyzeOptions struct {
	yes bool
}

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	aopts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <text>",
		Short: "Run one analysis in-process and print its envelopes as JSON lines",
		Long: `Analyze decomposes the request, shows the confirmation prompt and, once
confirmed, runs the job in this process. Every envelope is printed to stdout as
one JSON object per line until the job ends. Logs go to stderr.

Examples:
  topicpulse analyze "Analyze sentiment on energy across France and Germany"
  topicpulse analyze --yes "Compare coverage of the election across USA and Canada over the last 14 days"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, aopts, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVarP(&aopts.yes, "yes", "y", false, "confirm without prompting")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *rootOptions, aopts *analyzeOptions, text string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	// the in-process channel never answers pings
	cfg.Stream.HeartbeatInterval = 0
	logger := logging.NewConsole(cmd.ErrOrStderr(), cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.D())
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	controller := application.Controller()
	res, err := controller.Create(ctx, text, domain.SessionContext{})
	if err != nil {
		return err
	}
	if res.Job == nil {
		cmd.PrintErrln(res.DirectReply)
		for _, s := range res.Suggestions {
			cmd.PrintErrln("  - " + s)
		}
		return nil
	}
	jobID := res.Job.ID

	out := newLineChannel(cmd.OutOrStdout())
	dispatcher := application.Dispatcher()
	dispatcher.Attach(cliSession, out)
	if err := dispatcher.Watch(cliSession, jobID, nil); err != nil {
		return err
	}

	cmd.PrintErrln(res.Confirmation)
	confirmed := aopts.yes
	if !confirmed {
		confirmed, err = prompt(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}
	if _, err := controller.Confirm(ctx, jobID, confirmed, nil); err != nil {
		return err
	}

	select {
	case <-out.terminal:
	case <-ctx.Done():
		logger.Info("interrupted, cancelling job", "job_id", jobID)
		cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.CancelGrace.D()+time.Second)
		defer cancel()
		if _, err := controller.Cancel(cancelCtx, jobID); err != nil {
			return err
		}
		select {
		case <-out.terminal:
		case <-cancelCtx.Done():
		}
	}

	job, err := controller.Get(context.Background(), jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.StatusFailed && job.Error != nil {
		return fmt.Errorf("job %s failed: %s", jobID, job.Error.Message)
	}
	return nil
}

func prompt(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "[y/N] ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// lineChannel prints envelopes as JSON lines and signals the first terminal one.
type lineChannel struct {
	mu        sync.Mutex
	enc       *json.Encoder
	terminal  chan struct{}
	termOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newLineChannel(w io.Writer) *lineChannel {
	return &lineChannel{
		enc:      json.NewEncoder(w),
		terminal: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (l *lineChannel) Send(_ context.Context, env domain.Envelope) error {
	select {
	case <-l.closed:
		return io.ErrClosedPipe
	default:
	}
	l.mu.Lock()
	err := l.enc.Encode(env)
	l.mu.Unlock()
	if env.Type.Terminal() {
		l.termOnce.Do(func() { close(l.terminal) })
	}
	return err
}

func (l *lineChannel) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}
