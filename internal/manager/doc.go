// Package manager implements the task farm coordinator: the task manager
// with its waiting/running/finished queues, the process registry and the
// watchdog that recovers work from dead workers.
package manager
