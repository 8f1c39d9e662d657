// Package pipeline implements the Processing Pipeline: the ordered list of
// plug-in instances attached to one video source, built by Instantiate and
// run once per frame on the owning runtime's consumer thread (spec §4.4).
// Instantiate runs on its caller's goroutine: pkg/server calls it from
// StartVideoSource before the runtime starts, not lazily on the consumer
// thread.
// It is grounded on XVideoSourceProcessingGraph / XVideoSourceProcessingStep
// (original_source/.../core/automationserver).
package pipeline

import (
	"github.com/google/uuid"

	"cvautomation/pkg/variant"
)

// Step pairs a display name and plug-in GUID with the step's persisted
// configuration (spec §3, Processing Step).
type Step struct {
	Name   string
	Plugin uuid.UUID
	Config map[string]variant.Value
}

// Graph is the ordered, index-addressed list of processing steps attached
// to one video source. It is owned by a video-source runtime: mutated only
// from the server's control lock before the runtime starts, with a narrow
// update-configuration path permitted while running (§4.4 "Live
// reconfiguration").
type Graph struct {
	Steps []Step
}

// Clone returns a deep copy of g, safe to hand to a runtime that will
// mutate its own working copy during instantiation.
func (g Graph) Clone() Graph {
	out := Graph{Steps: make([]Step, len(g.Steps))}
	for i, s := range g.Steps {
		cfg := make(map[string]variant.Value, len(s.Config))
		for k, v := range s.Config {
			cfg[k] = v
		}
		out.Steps[i] = Step{Name: s.Name, Plugin: s.Plugin, Config: cfg}
	}
	return out
}
