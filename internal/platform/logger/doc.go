// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON
// logging with configurable log levels, and carries request- and task-scoped
// loggers through context.Context so that log entries from nested calls stay
// correlated with the operation that produced them.
package logger
