// Package orchestrator supervises harvest targets.
//
// Every target runs in its own goroutine with panic containment, so one
// failing target never stops its siblings. On shutdown the orchestrator asks
// every crawler to stop, waits up to a grace period for the pipelines to
// drain and dumps each crawler's cursor for the next run. Targets still
// running after the grace period are cancelled and reported as failed.
package orchestrator
