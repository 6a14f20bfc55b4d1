// Package postgres holds the PostgreSQL side of the service: opening the
// connection pool used by the database health check, the embedded goose
// migrations, and a task result backend stored in the task_results table.
package postgres
