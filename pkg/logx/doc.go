// Package logx configures versebot's structured logging.
//
// logx.Logger is a small value-type wrapper over zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON, one event per line
//   - an optional chat sink forwards warnings to an admin chat, rate limited
package logx
