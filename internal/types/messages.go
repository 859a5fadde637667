package types

// CrashMessage carries a finding written by an engine instance.
type CrashMessage struct {
	CrashFile string // path on the local filesystem
	Fuzzlet   *Fuzzlet
}

// SeedMessage carries a queue entry written by an engine instance.
type SeedMessage struct {
	SeedFile string
	Fuzzlet  *Fuzzlet
}

// CorpusMessage announces a new corpus bundle on the corpus queue.
type CorpusMessage struct {
	TaskId       string `json:"task_id"`
	Harness      string `json:"harness"`
	SeedBlobPath string `json:"seeds"`
	Total        int    `json:"total"`
	Enveloped    int    `json:"enveloped"`
}
