package types

import "fmt"

// Fuzzlet is one (task, harness) pair scheduled for a fuzzing epoch.
type Fuzzlet struct {
	TaskId     string `json:"task_id"`
	Harness    string `json:"harness"`
	FuzzEngine string `json:"fuzz_engine"`
	MaxSize    int    `json:"max_size,omitempty"`
}

func (f *Fuzzlet) String() string {
	return fmt.Sprintf("%s/%s@%s", f.TaskId, f.Harness, f.FuzzEngine)
}
