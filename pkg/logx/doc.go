// Package logx configures taskcadence's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and size-rotated
//   - Output swaps at runtime (config hot reload) without re-plumbing loggers
package logx
