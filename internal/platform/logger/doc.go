// Package logger configures the application's structured logging and
// provides helpers for carrying request- and task-scoped loggers through
// a context.Context.
package logger
