// Package postgres provides PostgreSQL implementations of the store
// interfaces consumed by the task pipeline.
package postgres
