package derived

import "github.com/tendant/record-files/pkg/recordfiles"

// FailureKind classifies why an artifact was not created.
type FailureKind string

// Failure kinds. FailureNone means the artifact was committed.
const (
	FailureNone       FailureKind = ""
	FailureSkipped    FailureKind = "skipped"
	FailureSourceRead FailureKind = "source_read"
	FailureRender     FailureKind = "render"
	FailureExtract    FailureKind = "extract"
	FailureInvalidKey FailureKind = "invalid_key"
	FailureDuplicate  FailureKind = "duplicate"
	FailureInit       FailureKind = "init"
	FailureWrite      FailureKind = "write"
	FailureCommit     FailureKind = "commit"
)

// Outcome is the result of one artifact branch.
type Outcome struct {
	Kind    recordfiles.Kind
	Key     string
	Failure FailureKind
	Err     error
}

// Created reports whether the artifact was committed.
func (o Outcome) Created() bool {
	return o.Failure == FailureNone
}
