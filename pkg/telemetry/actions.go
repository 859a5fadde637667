package telemetry

type ActionCategory int

const (
	Fuzzing ActionCategory = iota
	InputGeneration
	Scheduling
	Testing
)

func (a ActionCategory) String() string {
	switch a {
	case Fuzzing:
		return "fuzzing"
	case InputGeneration:
		return "input_generation"
	case Scheduling:
		return "scheduling"
	case Testing:
		return "testing"
	default:
		return "unknown"
	}
}
