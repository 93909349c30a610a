// Package storage persists task run history.
//
// Every finished or rejected firing becomes one row. The recorder prunes rows
// older than the configured retention every few hundred writes. Schedules themselves are
// never persisted; they live in the scheduler registry and in config.
package storage
