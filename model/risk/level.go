package risk

// Level represents the assessed risk of a task's action. It drives approval
// gating: low risk executes automatically, medium and high risk require a
// human decision before execution.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Severity returns a numeric ordering so levels can be compared; unknown
// levels rank above high to keep comparisons fail-safe.
func (l Level) Severity() int {
	switch l {
	case Low:
		return 0
	case Medium:
		return 1
	case High:
		return 2
	}
	return 3
}

// RequiresApproval reports whether a task at this level must be gated behind
// a human approval artifact.
func (l Level) RequiresApproval() bool {
	return l.Severity() >= Medium.Severity()
}

// IsValid reports whether the level is one of the recognised constants.
func (l Level) IsValid() bool {
	switch l {
	case Low, Medium, High:
		return true
	}
	return false
}
