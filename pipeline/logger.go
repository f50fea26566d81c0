package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// maxLogSize is the rotation threshold for the operational log.
const maxLogSize = 2 * 1024 * 1024

// NewFileLogger builds the operational logger writing to path, rotating the
// previous file to <path>.old once it reaches maxLogSize. The logger is
// constructed once and passed explicitly to every component that logs; there
// is no process-wide mutable logging state. The returned closer owns the
// underlying file.
func NewFileLogger(path string) (zerolog.Logger, io.Closer, error) {
	if fi, err := os.Stat(path); err == nil && fi.Size() >= maxLogSize {
		backup := path + ".old"
		_ = os.Remove(backup)
		if err := os.Rename(path, backup); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("rotate log file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}

	logger := zerolog.New(f).With().Timestamp().Logger()
	return logger, f, nil
}
