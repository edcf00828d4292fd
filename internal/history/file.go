package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/loykin/viewport/internal/logger"
)

// FileSink appends events as JSON lines to a rotated file.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileSink opens path through lumberjack using the rotation limits in rot.
func NewFileSink(path string, rot logger.FileConfig) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file sink: empty path")
	}
	return &FileSink{w: rot.Rotating(path)}, nil
}

func (s *FileSink) Name() string { return "file" }

// Send writes one line per event; the lock keeps lines whole under concurrent use.
func (s *FileSink) Send(_ context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
