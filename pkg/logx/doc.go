// Package logx configures confbot's structured logging.
//
// logx.Logger is a small value type on top of zerolog:
//   - console output is readable (short timestamp and caller)
//   - file output is JSON
//   - an optional admin chat sink applies a minimum level and a rate limit
package logx
