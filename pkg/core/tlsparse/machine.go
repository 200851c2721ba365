package tlsparse

// Stage is the per-direction record-level parsing stage: waiting on a
// record header, waiting on the rest of a record's body, or done caring.
type Stage int

const (
	StageHeader Stage = iota
	StageRecordBody
	StageIrrelevant
)

// Machine tracks where a single direction's record-level walk currently sits.
// It holds no captured bytes itself — the owning direction.State does that —
// only the bookkeeping needed to decide how many more bytes are wanted next
// and what to do once they arrive.
type Machine struct {
	Stage            Stage
	PendingRecordLen int
}

// NewMachine returns a machine positioned at the start of a fresh record.
func NewMachine() *Machine {
	return &Machine{Stage: StageHeader}
}
