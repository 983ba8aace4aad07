// Package protocol parses the line-oriented progress protocol a batch tool
// runner writes to stdout.
package protocol

// Kind classifies one stdout line.
type Kind int

const (
	// Log is any line without a known tag. It is forwarded verbatim.
	Log Kind = iota
	// Step describes a processing step ("S:").
	Step
	// Info carries fine-grained status ("I:").
	Info
	// Progress reports single-task progress ("P:").
	Progress
	// BatchProgress reports progress across a batch ("BP:").
	BatchProgress
	// MultiProgress reports progress across parallel tasks ("MP:").
	MultiProgress
)

var kindNames = map[Kind]string{
	Log:           "log",
	Step:          "step",
	Info:          "info",
	Progress:      "progress",
	BatchProgress: "batch_progress",
	MultiProgress: "multi_progress",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Structured reports whether k is a tagged protocol message as opposed to
// pass-through log text.
func (k Kind) Structured() bool {
	return k != Log
}

// Message is one parsed stdout line. For Log messages Payload is the whole
// line; for tagged messages it is the text after the tag.
type Message struct {
	Kind    Kind
	Payload string
}
