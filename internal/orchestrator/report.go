package orchestrator

import (
	"sync"

	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

// TargetReport is the outcome of one target. Phase is the last phase the
// target reached before exiting; Err is set when that phase is failed.
type TargetReport struct {
	Name    string
	Phase   Phase
	Cycles  int
	Summary ingest.Summary
	Cursor  string
	Exited  bool
	Err     error
}

// Report collects every target outcome of a run.
type Report struct {
	Targets []TargetReport
}

// Failed returns the targets whose last cycle ended in a fatal error.
func (r Report) Failed() []TargetReport {
	var out []TargetReport
	for _, t := range r.Targets {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// Target returns the report of the named target.
func (r Report) Target(name string) (TargetReport, bool) {
	for _, t := range r.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetReport{}, false
}

type targetRun struct {
	target Target
	ingest ingest.Config

	mu      sync.Mutex
	phase   Phase
	cycle   int
	summary ingest.Summary
	cursor  string
	err     error
	invalid bool
	exited  bool
}

func (r *targetRun) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited {
		return
	}
	r.phase = p
	telemetry.ObserveCycle(r.target.Name, string(p))
}

func (r *targetRun) startCycle() {
	r.mu.Lock()
	r.cycle++
	r.err = nil
	r.mu.Unlock()
	r.setPhase(PhaseRunning)
}

func (r *targetRun) cycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}

func (r *targetRun) finish(p Phase, sum ingest.Summary, err error) {
	r.mu.Lock()
	if !r.exited {
		r.summary, r.err = sum, err
	}
	r.mu.Unlock()
	r.setPhase(p)
}

func (r *targetRun) setCursor(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = path
}

// exit marks the target as exited, keeping the last outcome phase.
func (r *targetRun) exit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited {
		return
	}
	r.exited = true
	telemetry.ObserveCycle(r.target.Name, string(PhaseExited))
}

// forceKill marks a target that is still running as failed. It reports
// whether the target had not exited yet.
func (r *targetRun) forceKill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited || r.invalid {
		return false
	}
	r.exited = true
	r.phase = PhaseFailed
	r.err = ErrGraceExceeded
	telemetry.ObserveCycle(r.target.Name, string(PhaseExited))
	return true
}

func (r *targetRun) report() TargetReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return TargetReport{
		Name:    r.target.Name,
		Phase:   r.phase,
		Cycles:  r.cycle,
		Summary: r.summary,
		Cursor:  r.cursor,
		Exited:  r.exited || r.invalid,
		Err:     r.err,
	}
}
