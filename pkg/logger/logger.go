package logger

// Logger - общий интерфейс логгера для всех компонентов.
type Logger interface {
	Log(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	SetPrefix(prefix string)
}
