package cli

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileHook writes every log entry to an additional writer with its own formatter, so a log file
// does not receive the color codes of the console.
type FileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
	mu        sync.Mutex
}

// NewFileHook returns a hook writing to w.
func NewFileHook(w io.Writer, formatter logrus.Formatter) *FileHook {
	return &FileHook{writer: w, formatter: formatter}
}

// Levels implements logrus.Hook.
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	data, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()

	_, err = hook.writer.Write(data)

	return err
}
