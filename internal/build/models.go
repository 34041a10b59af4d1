package build

import (
	"time"
)

// ImageRef identifies a tagged image in the backend image store.
type ImageRef struct {
	Name string
	Tag  string
}

func (r ImageRef) String() string {
	if r.Tag == "" {
		return r.Name
	}
	return r.Name + ":" + r.Tag
}

// Step describes one image build within a pipeline. Base names the image the
// step's Dockerfile starts from when that image is produced by an earlier
// step; it is empty when the base comes from outside the pipeline.
type Step struct {
	Image      string
	Dockerfile string
	Context    string
	Base       string
}

// Arguments is the build-argument set shared by every step of a run.
type Arguments map[string]string

// Clone returns an independent copy of the argument set.
func (a Arguments) Clone() Arguments {
	cloned := make(Arguments, len(a))
	for name, value := range a {
		cloned[name] = value
	}
	return cloned
}

// RunStatus captures overall lifecycle states for a pipeline run.
type RunStatus string

// Supported run statuses.
const (
	RunStatusPending      RunStatus = "pending"
	RunStatusSnapshotting RunStatus = "snapshotting"
	RunStatusBuilding     RunStatus = "building"
	RunStatusSucceeded    RunStatus = "succeeded"
	RunStatusFailed       RunStatus = "failed"
)

// StepStatus captures the outcome of a single step within a run.
type StepStatus string

// Supported step statuses. Steps after a failed step are marked skipped.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusBuilding  StepStatus = "building"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// RunRecord is the persisted record of one pipeline run.
type RunRecord struct {
	ID         string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepResult
	Error      string
}

// StepResult records the outcome of one step in a run.
type StepResult struct {
	Image    string
	Status   StepStatus
	Duration time.Duration
	Error    string
}
