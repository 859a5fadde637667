package database

import "fmt"

const (
	FuzzletsKey   = "b3wasmfuzz:fuzzlets"
	taskStatusKey = "global:task_status:%s"
	taskMetaKey   = "global:task_metadata:%s"
	taskTraceKey  = "global:trace_context:%s"
	corpusKey     = "corpus:%s:%s"
	seenKey       = "seen:%s:%s"
)

// task status values stored under TaskStatusKey
const (
	TaskProcessing = "processing"
	TaskCanceled   = "canceled"
)

func TaskStatusKey(taskID string) string   { return fmt.Sprintf(taskStatusKey, taskID) }
func TaskMetadataKey(taskID string) string { return fmt.Sprintf(taskMetaKey, taskID) }

// TaskTraceKey holds the exported trace context of the task span.
func TaskTraceKey(taskID string) string { return fmt.Sprintf(taskTraceKey, taskID) }

// CorpusKey points at the cumulative corpus bundle of a harness.
func CorpusKey(taskID, harness string) string { return fmt.Sprintf(corpusKey, taskID, harness) }

// SeenKey is the set of corpus entry digests already bundled for a harness.
func SeenKey(taskID, harness string) string { return fmt.Sprintf(seenKey, taskID, harness) }
