package journal

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// BatchRecord is one completed batch as stored in the local journal.
type BatchRecord struct {
	ID         uint   `gorm:"primaryKey"`
	BatchID    string `gorm:"index"`
	Positions  uint64
	Nodes      uint64
	NPS        uint32
	DurationMS int64
	FinishedAt time.Time `gorm:"index"`
}

// Summary aggregates the journal for the stats command.
type Summary struct {
	Batches   int64
	Positions uint64
	Nodes     uint64
	MeanNPS   uint32
	First     time.Time
	Last      time.Time
}

// Journal records completed batches in a local SQLite database. It is an
// operator convenience: failures to record are logged by callers, never
// fatal to analysis.
type Journal struct {
	db *gorm.DB
}

// Open opens (or creates) the journal database at path and migrates its
// schema.
func Open(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database %q: %w\nCheck directory permissions, or disable the journal with --journal \"\"", path, err)
	}

	if err := db.AutoMigrate(&BatchRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema in %q: %w\nThe file may have been created by an incompatible version", path, err)
	}

	return &Journal{db: db}, nil
}

// Record appends one completed batch.
func (j *Journal) Record(rec BatchRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record batch %q in journal: %w", rec.BatchID, err)
	}
	return nil
}

// Summarize aggregates every recorded batch.
func (j *Journal) Summarize() (Summary, error) {
	var result struct {
		Batches   int64
		Positions uint64
		Nodes     uint64
		MeanNPS   float64
	}

	err := j.db.Model(&BatchRecord{}).
		Select("COUNT(*) AS batches, COALESCE(SUM(positions), 0) AS positions, COALESCE(SUM(nodes), 0) AS nodes, COALESCE(AVG(nps), 0) AS mean_nps").
		Scan(&result).Error
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize journal: %w", err)
	}

	summary := Summary{
		Batches:   result.Batches,
		Positions: result.Positions,
		Nodes:     result.Nodes,
		MeanNPS:   uint32(result.MeanNPS),
	}
	if summary.Batches == 0 {
		return summary, nil
	}

	// The sqlite driver hands MIN/MAX aggregates back as bare strings, so
	// fetch the boundary rows through the model instead.
	var first, last BatchRecord
	if err := j.db.Order("finished_at ASC").First(&first).Error; err != nil {
		return Summary{}, fmt.Errorf("failed to summarize journal: %w", err)
	}
	if err := j.db.Order("finished_at DESC").First(&last).Error; err != nil {
		return Summary{}, fmt.Errorf("failed to summarize journal: %w", err)
	}
	summary.First = first.FinishedAt
	summary.Last = last.FinishedAt

	return summary, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	db, err := j.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
