// Package plan loads declarative pipeline manifests.
//
// A manifest lists units of work (typically samples), global parameters and
// an ordered list of steps. Each step declares job templates whose names,
// paths and commands may reference placeholders: {unit} for the unit name,
// and {key} for a unit or global parameter. A step can run once or once per
// unit, sweep over list-valued parameters, and concatenate the jobs of each
// expansion into a single chained job.
//
// Manifests are validated against an embedded JSON Schema before parsing.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: assembly
//	units:
//	  - name: s1
//	params:
//	  coverage_cutoff: [10, 20]
//	steps:
//	  - name: filtering
//	    foreach: unit
//	    jobs:
//	      - name: filtering.{unit}
//	        inputs: ["{unit}.fofn"]
//	        outputs: ["{unit}/filtering/subreads.fasta"]
//	        command: filter {unit}.fofn
//	  - name: assembly
//	    foreach: unit
//	    sweep: [coverage_cutoff]
//	    chain: assembly.{unit}.coverage_cutoff{coverage_cutoff}X
//	    jobs:
//	      - command: mkdir -p {unit}/{coverage_cutoff}X
//	      - inputs: ["{unit}/filtering/subreads.fasta"]
//	        outputs: ["{unit}/{coverage_cutoff}X/assembly.fasta"]
//	        command: assemble {unit} {coverage_cutoff}
package plan

// ForEach values.
const (
	ForEachNone = "none"
	ForEachUnit = "unit"
)

// Manifest is a validated pipeline manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Units  []UnitSpec     `json:"units,omitempty" yaml:"units,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Steps  []StepSpec     `json:"steps" yaml:"steps"`
}

// UnitSpec declares one unit of work.
type UnitSpec struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// StepSpec declares one pipeline step.
type StepSpec struct {
	Name string `json:"name" yaml:"name"`

	// ForEach is "unit" to expand the jobs once per unit, or "none".
	ForEach string `json:"foreach,omitempty" yaml:"foreach,omitempty"`

	// Sweep names list-valued parameters; jobs are expanded once per
	// combination of their values.
	Sweep []string `json:"sweep,omitempty" yaml:"sweep,omitempty"`

	// Chain, when set, is the name template of a chain concatenating the
	// jobs of each expansion.
	Chain string `json:"chain,omitempty" yaml:"chain,omitempty"`

	Jobs []JobSpec `json:"jobs" yaml:"jobs"`
}

// JobSpec is a job template.
type JobSpec struct {
	// Name defaults to the step name joined with the unit and sweep values,
	// suffixed with the job position when the step has several jobs.
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	Command   string   `json:"command,omitempty" yaml:"command,omitempty"`
	Inputs    []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs   []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Modules   []string `json:"modules,omitempty" yaml:"modules,omitempty"`
	Removable []string `json:"removable,omitempty" yaml:"removable,omitempty"`

	// After names jobs of earlier expansions this job explicitly depends on.
	After []string `json:"after,omitempty" yaml:"after,omitempty"`
}

// ApplyDefaults fills optional fields.
func (m *Manifest) ApplyDefaults() {
	for i := range m.Steps {
		if m.Steps[i].ForEach == "" {
			m.Steps[i].ForEach = ForEachNone
		}
	}
}
