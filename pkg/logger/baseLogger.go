package logger

import (
	"fmt"
	"io"
	"log"
	"sync"
)

type BaseLogger struct {
	mu     sync.Mutex
	prefix string
	writer io.Writer
	echo   bool
}

// NewLogger пишет в writer и дублирует сообщения в стандартный log.
func NewLogger(writer io.Writer, prefix string) *BaseLogger {
	return &BaseLogger{
		writer: writer,
		prefix: prefix,
		echo:   true,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *BaseLogger {
	return &BaseLogger{writer: io.Discard}
}

func (l *BaseLogger) Log(format string, v ...interface{}) {
	l.write("", format, v...)
}

func (l *BaseLogger) Warn(format string, v ...interface{}) {
	l.write("WARN ", format, v...)
}

func (l *BaseLogger) Error(format string, v ...interface{}) {
	l.write("ERROR ", format, v...)
}

func (l *BaseLogger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	message := fmt.Sprintf(l.prefix+" "+level+format, v...)
	if l.writer != nil {
		fmt.Fprintln(l.writer, message)
	}
	if l.echo {
		log.Print(message)
	}
}

// WithPrefix создает дочерний логгер с дополнительным префиксом, например "[scheduler] [el_rabie]".
func (l *BaseLogger) WithPrefix(extraPrefix string) *BaseLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &BaseLogger{
		writer: l.writer,
		prefix: l.prefix + " " + extraPrefix,
		echo:   l.echo,
	}
}

func (l *BaseLogger) SetPrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefix = prefix
}

func (l *BaseLogger) SetWriter(writer io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = writer
}

// SetEcho toggles duplication into the standard logger.
func (l *BaseLogger) SetEcho(echo bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = echo
}
