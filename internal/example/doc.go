// Package example demonstrates the task queue end to end: two background
// tasks (a simulated email send with retry and backoff, and a small data
// processing job) and the HTTP routes that queue them and report their
// state.
package example
