// Package harness runs declarative process scenarios through a test
// session and binds sessions to the testing package.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: invoice_escalates
//	description: "An unapproved invoice escalates after one hour"
//	resources:
//	  - invoice.process.yaml
//	steps:
//	  - action: set_time
//	    time: 2024-01-01T00:00:00Z
//	  - action: start
//	    process: invoice
//	    as: inv
//	    vars: { amount: 250 }
//	  - action: advance
//	    duration: PT1H
//	  - action: execute_jobs
//	    expect: 1
//	assertions:
//	  - type: process_ended
//	    instance: inv
//	  - type: historic_variable
//	    instance: inv
//	    name: amount
//	    value: 250
//
// Resources are paths in the runner's resource FS and are deployed as one
// deployment for the scenario, then cascade-deleted. Process instances are
// referred to by the alias given with "as" (default: the process key).
//
// # Step Actions
//
//   - set_time: pin the clock to an RFC 3339 time
//   - advance: move the pinned clock by a duration (ISO 8601 or Go syntax)
//   - start: start the latest definition of a process key
//   - complete_task: complete the open task with the given definition key
//   - execute_jobs: fire due jobs, optionally checking how many fired
//   - set_variable: set one variable on an instance
//
// # Assertion Types
//
//   - process_ended: the instance is no longer active
//   - process_active: the instance is still active
//   - task_active: the instance has an open task with the given key
//   - jobs_pending: the instance has exactly count pending jobs
//   - historic_variable: the recorded last value (and optionally type) of a variable
//
// # Deterministic Testing
//
// Traces record aliases and activity ids rather than generated ids, and
// clock readings only while time is pinned, so traces of scenarios that
// pin time are stable for golden file comparison.
//
// # Usage in Go tests
//
//	tc := harness.Start(t, sess, deployment.TestIdentity{Class: "InvoiceTest", Method: t.Name()})
//	pi, err := tc.Runtime().StartProcessInstanceByKey(tc.Context(), "invoice", "", nil)
//	require.NoError(t, err)
//	harness.AssertProcessEnded(t, tc, pi.ID)
package harness
