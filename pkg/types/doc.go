// Package types defines the shared data model of the task farm: tasks,
// results, the TaskService contract and the error taxonomy. The types here
// are transport-agnostic plain values safe to embed in any serialization
// format.
package types
