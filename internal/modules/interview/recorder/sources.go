package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/storyloom/core/internal/store"
)

// CommandSource runs an external capture program (arecord, ffmpeg, sox)
// per take and reads its stdout. Closing the stream stops the program.
type CommandSource struct {
	Name        string
	Args        []string
	ContentType string
}

func (s CommandSource) Open(ctx context.Context) (io.ReadCloser, string, error) {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", err
	}
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start %s: %w", s.Name, err)
	}
	return &commandStream{cmd: cmd, out: out}, s.ContentType, nil
}

type commandStream struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
}

func (c *commandStream) Read(p []byte) (int, error) { return c.out.Read(p) }

func (c *commandStream) Close() error {
	c.once.Do(func() {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(os.Interrupt)
		}
		_ = c.cmd.Wait()
	})
	return nil
}

// FileSource replays prerecorded answers, one file per take, in order.
type FileSource struct {
	mu    sync.Mutex
	paths []string
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.paths) == 0 {
		return nil, "", fmt.Errorf("no more answer files")
	}
	path := s.paths[0]
	s.paths = s.paths[1:]

	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, store.DetectContentType(filepath.Base(path), nil, ""), nil
}
