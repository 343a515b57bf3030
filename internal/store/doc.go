// Package store provides SQLite-backed persistence for one engine instance.
//
// The store holds:
//   - Deployments and their raw resources
//   - Versioned process definitions
//   - Runtime state: executions, variables, tasks, timer jobs
//   - History: process instances and the last value of each variable
//   - Identity: users
//
// # Cascade Ownership
//
// Every deployment-owned row reaches deployments(id) through ON DELETE
// CASCADE foreign keys:
//
//	deployments ─┬─ resources
//	             └─ process_definitions ─┬─ executions ─┬─ variables
//	                                     │              ├─ tasks
//	                                     │              └─ jobs
//	                                     └─ historic_process_instances ── historic_variable_instances
//
// Deleting a deployment therefore removes all runtime and historic data it
// produced in a single statement. Users are not deployment-owned.
//
// # Time
//
// Timestamps are stored as unix milliseconds (UTC). The store never reads
// the clock; callers pass the times they want recorded.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
