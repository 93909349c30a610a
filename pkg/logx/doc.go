// Package logx configures dyncron's structured logging.
//
// Components log through a small value-type wrapper (logx.Logger) on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Level and sinks can be swapped at runtime via Service.Apply
package logx
