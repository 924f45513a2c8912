package log

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"
)

const (
	TextFormat = "text"
	JSONFormat = "json"

	timestampLayout = "2006-01-02 15:04:05.000"
	defaultPrefix   = "datapipe"
)

var levelColors = map[Level]func(string) string{
	ErrorLevel: ansi.ColorFunc("red"),
	WarnLevel:  ansi.ColorFunc("yellow"),
	InfoLevel:  ansi.ColorFunc("green"),
	DebugLevel: ansi.ColorFunc("blue+h"),
	TraceLevel: ansi.ColorFunc("white"),
}

// TextFormatter renders entries as `<time> <LEVEL> <prefix> - <message> key=value ...`.
type TextFormatter struct {
	// Colors enables ANSI level colouring.
	Colors bool
}

// NewTextFormatter returns a TextFormatter without colours.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{}
}

// Format implements logrus.Formatter.
func (formatter *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = new(bytes.Buffer)
	}

	level := strings.ToUpper(FromLogrusLevel(entry.Level).String())
	if formatter.Colors {
		level = levelColors[FromLogrusLevel(entry.Level)](level)
	}

	prefix := defaultPrefix
	if val, ok := entry.Data[FieldKeyPrefix]; ok {
		prefix = fmt.Sprint(val)
	}

	fmt.Fprintf(buf, "%s %s %s - %s", entry.Time.Format(timestampLayout), level, prefix, entry.Message)

	keys := make([]string, 0, len(entry.Data))

	for key := range entry.Data {
		if key != FieldKeyPrefix {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	for _, key := range keys {
		fmt.Fprintf(buf, " %s=%v", key, entry.Data[key])
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// ParseFormat returns the formatter for the given format name.
func ParseFormat(name string, colors bool) (logrus.Formatter, error) {
	switch strings.ToLower(name) {
	case "", TextFormat:
		return &TextFormatter{Colors: colors}, nil
	case JSONFormat:
		return &logrus.JSONFormatter{TimestampFormat: timestampLayout}, nil
	}

	return nil, errors.Errorf("invalid log format %q, supported formats: %s, %s", name, TextFormat, JSONFormat)
}
