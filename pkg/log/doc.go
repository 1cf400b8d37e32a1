// Package log provides the node's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Output is driven by a pluggable
// Formatter (text or JSON) and one or more Outputs (console, file).
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("engine"))
//	l.Info("engine started", log.Int("endpoints", 3))
//
// Use ApplyConfig to build a logger from a declarative Config (level plus
// text or JSON format). To capture stdlib logs emitted by dependencies such
// as Pebble, use RedirectStdLog.
package log
