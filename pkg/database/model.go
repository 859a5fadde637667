package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// FuzzerTypeEnum is the fuzzer column of the seeds table.
type FuzzerTypeEnum string

const (
	WasmFuzz      FuzzerTypeEnum = "wasm"
	CorpusGrabber FuzzerTypeEnum = "corpus"
	SeedGen       FuzzerTypeEnum = "seedgen"
)

// Seed is a corpus bundle in public.seeds.
type Seed struct {
	ID          int            `gorm:"primaryKey;column:id"`
	TaskID      string         `gorm:"column:task_id;not null"`
	CreatedAt   time.Time      `gorm:"column:created_at;default:now()"`
	Path        string         `gorm:"column:path"`
	HarnessName string         `gorm:"column:harness_name"`
	Fuzzer      FuzzerTypeEnum `gorm:"column:fuzzer"`
	Instance    string         `gorm:"column:instance"`
	Coverage    float64        `gorm:"column:coverage"`
	Metric      Metric         `gorm:"column:metric;type:jsonb"`
}

// Bug is a finding in public.bugs. ModuleLen and SeedLen describe the
// envelope split of the input and are zero for bare seeds.
type Bug struct {
	ID          int       `gorm:"primaryKey;column:id"`
	TaskID      string    `gorm:"column:task_id;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	POC         string    `gorm:"column:poc;not null"`
	HarnessName string    `gorm:"column:harness_name;not null"`
	Digest      string    `gorm:"column:digest;not null"`
	Enveloped   bool      `gorm:"column:enveloped"`
	ModuleLen   int       `gorm:"column:module_len"`
	SeedLen     int       `gorm:"column:seed_len"`
}

// Metric is a jsonb column.
type Metric map[string]any

func (m Metric) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metric) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(raw, m)
}
