// Package logx configures agenda4go's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A Throttle helper for capping repeated warning lines from hot loops
//     without silencing them outright (the agenda engine does not use it).
package logx
