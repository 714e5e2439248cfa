// Package core defines the triage domain model and the shared runtime primitives.
//
// Domain types:
//   - Finding: one raw alert from a detection source (severity 0-10, free-form fields)
//   - Indicator: an IP address, domain or file hash extracted from a finding
//   - Verdict: the recommended next action (Monitor, Investigate, ImmediateAction)
//
// Runtime primitives:
//   - WorkerPool: fixed-size goroutine pool used for bounded enrichment lookups
//   - CircuitBreaker: fails fast when a threat-intelligence backend keeps erroring
package core
