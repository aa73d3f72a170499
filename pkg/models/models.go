package models

// Priority classifies how a desired model competes for GPU capacity.
// High-priority models are expected to co-reside on a single card large
// enough for all of them; low-priority models take any free space.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Valid reports whether p is one of the two allowed priority classes.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityLow
}

// DesiredModel is one entry from the user's llms.yaml.
type DesiredModel struct {
	// Name is the human label, unique within the desired set.
	Name string
	// Model is the wire identifier understood by the worker and the
	// size oracle, e.g. "mistral:7b-instruct-q5_K_M".
	Model string
	// Priority is either PriorityHigh or PriorityLow.
	Priority Priority
	// SizeMB is the model's memory footprint in megabytes, resolved by
	// the size oracle before allocation. Zero until resolved.
	SizeMB float64
}
