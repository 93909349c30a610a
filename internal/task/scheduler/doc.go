// Package scheduler keeps a runtime-editable set of cron tasks armed.
//
// Callers edit a registry with AddTask and DeleteTask. A periodic
// reconciliation pass diffs the registry against the schedules that are
// actually armed and retires, re-arms or installs triggers until the two
// agree. Fired callbacks run on the executor pool, never on the trigger
// goroutine.
//
// Registry entries are equal when both task id and cron expression match, so
// adding a new cron for an existing id leaves two entries until the next pass
// keeps the most recently added one.
package scheduler
