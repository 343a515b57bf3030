// Package engine implements the small process engine the harness drives.
//
// An Engine is bound to one configuration (see package config) and owns a
// SQLite store. Its API is split into services mirroring a classic BPM
// engine: Repository (deployments), Runtime (instances and variables),
// Tasks, Management (timer jobs), History, Identity and Forms.
//
// EXECUTION MODEL:
//
// Commands run one at a time under the engine mutex, each inside a single
// store transaction. A command advances an instance through service tasks
// until it reaches a wait state (user task or timer) or an end node. When
// an instance ends, its runtime rows are removed and only history remains.
//
// TIME:
//
// Every timestamp comes from the engine's clock.Clock. Timer jobs become due
// at clock.Now()+duration when created, and ExecuteDueJobs fires jobs whose
// due date is at or before clock.Now(). Pinning a clock.Virtual therefore
// pins which timers fire; advancing it makes them due.
//
// The optional background job executor ticks on a separate clockwork.Clock
// so tests can step it with a fake clock.
//
// HISTORY:
//
// The configured history level gates what is recorded:
//
//	none       nothing
//	activity   historic process instances (start, end, end activity)
//	audit      plus historic variable instances (last value wins)
//	full       same as audit
package engine
