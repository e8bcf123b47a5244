// Package logx is cftrack's structured logging layer.
//
// Logger wraps zerolog with a small field API. Console output stays human
// readable (short timestamp, file:line caller); the optional file sink writes
// JSON lines. A Service can swap level and sinks at runtime so config reloads
// take effect without re-creating loggers.
package logx
