package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

func AddBugs(ctx context.Context, db *gorm.DB, bugs []*Bug) error {
	if len(bugs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(bugs).Error
}

func NewBug(taskID, poc, harnessName, digest string, moduleLen, seedLen int, enveloped bool) *Bug {
	return &Bug{
		TaskID:      taskID,
		CreatedAt:   time.Now(),
		POC:         poc,
		HarnessName: harnessName,
		Digest:      digest,
		Enveloped:   enveloped,
		ModuleLen:   moduleLen,
		SeedLen:     seedLen,
	}
}

func AddSeed(ctx context.Context, db *gorm.DB, seed *Seed) error {
	if seed == nil {
		return nil
	}
	return db.WithContext(ctx).Create(seed).Error
}

func NewSeed(
	taskID string,
	path string,
	harnessName string,
	fuzzer FuzzerTypeEnum,
	instance string,
	metric Metric,
) *Seed {
	return &Seed{
		TaskID:      taskID,
		CreatedAt:   time.Now(),
		Path:        path,
		HarnessName: harnessName,
		Fuzzer:      fuzzer,
		Instance:    instance,
		Metric:      metric,
	}
}

// SeedPaths returns the bundle paths usable as a starting corpus: every
// bundle from seed generators plus the newest fuzzer bundles.
func SeedPaths(ctx context.Context, db *gorm.DB, taskID, harness string, newest int) ([]string, error) {
	var external []string
	err := db.WithContext(ctx).Model(&Seed{}).
		Where("task_id = ? AND (harness_name = ? OR harness_name = '*')", taskID, harness).
		Where("fuzzer IN ?", []FuzzerTypeEnum{SeedGen, CorpusGrabber}).
		Pluck("path", &external).Error
	if err != nil {
		return nil, err
	}

	var own []string
	err = db.WithContext(ctx).Model(&Seed{}).
		Where("task_id = ? AND harness_name = ? AND fuzzer = ?", taskID, harness, WasmFuzz).
		Order("created_at DESC").
		Limit(newest).
		Pluck("path", &own).Error
	if err != nil {
		return nil, err
	}
	return append(external, own...), nil
}
