package signalsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
)

type Config struct {
	OutboxPath string `envconfig:"SIGNAL_OUTBOX_PATH" default:"signals.jsonl"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// FileOutbox reads signals from an append-only JSONL file. Each Poll resumes
// from the previous byte offset, so already-delivered lines are never re-read
// within one process lifetime; across restarts the persisted dedup set makes
// redelivery a no-op.
type FileOutbox struct {
	path string

	mu      sync.Mutex
	offset  int64
	pending []model.Signal
}

func NewFileOutbox(path string) *FileOutbox {
	return &FileOutbox{path: path}
}

// Next returns the oldest pending signal whose symbol matches, refreshing the
// pending queue from disk first. Symbol "" matches any signal.
func (o *FileOutbox) Next(ctx context.Context, symbol string) (*model.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.refreshLocked(); err != nil {
		return nil, err
	}

	for i, signal := range o.pending {
		if symbol != "" && !strings.EqualFold(signal.Execution.Symbol, symbol) {
			continue
		}
		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		return &signal, nil
	}
	return nil, nil
}

func (o *FileOutbox) refreshLocked() error {
	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open signal outbox: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(o.offset, 0); err != nil {
		return fmt.Errorf("failed to seek signal outbox: %w", err)
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read signal outbox: %w", err)
	}

	// Only consume up to the last complete line; a partially appended line
	// stays unread until the producer finishes it.
	end := bytes.LastIndexByte(raw, '\n')
	if end < 0 {
		return nil
	}
	complete := raw[:end+1]

	for _, line := range bytes.Split(complete, []byte("\n")) {
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}

		var signal model.Signal
		if err := json.Unmarshal([]byte(trimmed), &signal); err != nil {
			logger.WithField("line", trimmed).WithError(err).Warn("Skipping malformed outbox line")
			continue
		}
		if signal.ID == "" {
			logger.WithField("line", trimmed).Warn("Skipping outbox signal without id")
			continue
		}
		o.pending = append(o.pending, signal)
	}

	o.offset += int64(len(complete))
	return nil
}
