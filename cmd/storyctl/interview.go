package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/storyloom/core/internal/app"
	"github.com/storyloom/core/internal/database"
	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/interview/orchestrator"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/pkg/jwt"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

type interviewOptions struct {
	UserID    string
	Token     string
	SessionID string
	BookID    string
	Mode      string
	Category  string
	Language  string
	APIURL    string
	Command   string
	Files     []string
}

func newInterviewCmd(g *globalOptions) *cobra.Command {
	opt := &interviewOptions{Mode: string(models.ModeGuided), Command: "arecord -q -f cd -t wav"}
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Record an interview session from the terminal",
		Long: `Starts or resumes an interview. Press Enter to start and stop each answer.
Answers come from a recording command, or from --file arguments in order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInterview(cmd.Context(), g, opt, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opt.UserID, "user", opt.UserID, "User id to mint a token for")
	flags.StringVar(&opt.Token, "token", opt.Token, "Bearer token (overrides --user)")
	flags.StringVar(&opt.SessionID, "session", opt.SessionID, "Resume this session")
	flags.StringVar(&opt.BookID, "book", opt.BookID, "File the new session under this book")
	flags.StringVar(&opt.Mode, "mode", opt.Mode, "guided or non-guided")
	flags.StringVar(&opt.Category, "category", opt.Category, "Guided interview category")
	flags.StringVar(&opt.Language, "language", opt.Language, "Answer language code")
	flags.StringVar(&opt.APIURL, "api", opt.APIURL, "Pipeline base URL (defaults to interview.pipeline_url)")
	flags.StringVar(&opt.Command, "record-cmd", opt.Command, "Command that writes audio to stdout until interrupted")
	flags.StringArrayVar(&opt.Files, "file", opt.Files, "Prerecorded answer file (repeatable)")
	return cmd
}

func (o *interviewOptions) recorderSource() recorder.Source {
	if len(o.Files) > 0 {
		return recorder.NewFileSource(o.Files...)
	}
	fields := strings.Fields(o.Command)
	return recorder.CommandSource{Name: fields[0], Args: fields[1:], ContentType: "audio/wav"}
}

func runInterview(ctx context.Context, g *globalOptions, opt *interviewOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg, err := g.load()
	if err != nil {
		return err
	}
	if len(opt.Files) == 0 && strings.TrimSpace(opt.Command) == "" {
		return errors.New("either --record-cmd or --file is required")
	}
	token := opt.Token
	if token == "" {
		if opt.UserID == "" {
			return errors.New("either --token or --user is required")
		}
		if token, err = jwt.Sign(opt.UserID, 12*time.Hour); err != nil {
			return err
		}
	}
	apiURL := opt.APIURL
	if apiURL == "" {
		apiURL = cfg.Interview.PipelineURL
	}
	if apiURL == "" {
		return errors.New("no pipeline url: set --api or interview.pipeline_url")
	}

	log := g.logger()
	defer log.Sync()

	db, err := database.Connect(cfg, false)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	blobs, _, err := app.OpenBlobs(cfg)
	if err != nil {
		return err
	}

	o := orchestrator.New(orchestrator.Deps{
		Rows:      store.NewSQL(db),
		Blobs:     blobs,
		Recorder:  recorder.NewStreamRecorder(opt.recorderSource(), cfg.Interview.MaxRecordingBytes),
		Processor: processor.NewClient(apiURL, blobs, cfg.Storage.AudioBucket, &http.Client{Timeout: 2 * time.Minute}),
		Token:     token,
		TTSBucket: cfg.Storage.TTSBucket,
		Logger:    log.Named("interview"),
	},
		orchestrator.WithTTSPolicy(orchestrator.PolicyFromConfig(cfg)),
		orchestrator.WithObserver(func(s orchestrator.State) {
			log.Debug("state", zap.String("status", string(s.Status)), zap.Int("messages", len(s.Messages)))
		}),
	)
	defer o.Close()

	err = o.StartSession(ctx, orchestrator.SessionConfig{
		SessionID: opt.SessionID,
		BookID:    opt.BookID,
		Mode:      models.SessionMode(opt.Mode),
		Category:  opt.Category,
		Language:  opt.Language,
	})
	if err != nil {
		return err
	}

	c := &console{o: o, out: out, lines: readLines(in)}
	return c.run(ctx)
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()
	return lines
}

type console struct {
	o     *orchestrator.Orchestrator
	out   io.Writer
	lines <-chan string
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) run(ctx context.Context) error {
	s := c.o.Snapshot()
	c.printf("session %s\n", s.SessionID)
	for _, m := range s.Messages {
		c.printf("%-4s %s\n", m.Role+":", m.Content)
	}
	if s.Concluded || s.Completed {
		return c.finish(ctx)
	}
	c.showPrompt(ctx)

	for {
		c.printf("[enter] answer  [r] retry  [q] finish  [x] leave for later > ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			c.o.CancelAndExit()
			return ctx.Err()
		case line, ok = <-c.lines:
		}
		if !ok || line == "x" {
			c.o.CancelAndExit()
			c.printf("\nsession kept open, resume with --session %s\n", s.SessionID)
			return nil
		}

		var outcome *orchestrator.TurnOutcome
		var err error
		switch line {
		case "q":
			return c.finish(ctx)
		case "r":
			outcome, err = c.o.RetryTurn(ctx)
		default:
			outcome, err = c.record(ctx)
		}
		if err != nil {
			c.report(err)
			continue
		}
		c.printf("you: %s\n", outcome.Transcript)
		if outcome.Concluded {
			c.printf("The interview is complete.\n")
			return c.finish(ctx)
		}
		c.showPrompt(ctx)
	}
}

func (c *console) record(ctx context.Context) (*orchestrator.TurnOutcome, error) {
	type result struct {
		outcome *orchestrator.TurnOutcome
		err     error
	}
	stop := make(chan struct{})
	done := make(chan result, 1)
	go func() {
		outcome, err := c.o.RecordTurn(ctx, stop)
		done <- result{outcome, err}
	}()
	c.printf("recording, press enter to stop ... ")
	select {
	case r := <-done:
		return r.outcome, r.err
	case _, ok := <-c.lines:
		if !ok {
			c.o.CancelRecording()
		}
		close(stop)
	case <-ctx.Done():
		c.o.CancelRecording()
	}
	c.printf("thinking ...\n")
	r := <-done
	return r.outcome, r.err
}

func (c *console) report(err error) {
	switch {
	case errors.Is(err, orchestrator.ErrRecordingCancelled):
		c.printf("recording discarded\n")
	case apperr.Retryable(err):
		c.printf("network problem: %v\nyour answer was kept, press r to send it again\n", err)
	default:
		c.printf("error: %v\n", err)
	}
}

func (c *console) showPrompt(ctx context.Context) {
	s := c.o.Snapshot()
	c.printf("ai:  %s\n", s.CurrentPrompt)
	for _, alt := range s.Suggestions {
		c.printf("     (or: %s)\n", alt)
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role != orchestrator.RoleAI {
			continue
		}
		if m.RecordingID == "" {
			break
		}
		url, err := c.o.ResolveTTS(ctx, m.ID, false)
		if err == nil {
			c.printf("     audio: %s\n", url)
		}
		break
	}
}

func (c *console) finish(ctx context.Context) error {
	outcome, err := c.o.SaveAndExit(ctx)
	if err != nil {
		return err
	}
	if outcome == nil {
		return nil
	}
	if outcome.Err != nil {
		c.printf("session saved, chapters not requested: %v\n", outcome.Err)
		return nil
	}
	c.printf("session saved, chapter task %s\n", outcome.TaskID)
	return nil
}
