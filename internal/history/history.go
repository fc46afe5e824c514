package history

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const journalDir = ".plugsync"
const journalFile = "journal.db"

// OperationRecord is one finished install/uninstall, append-only. The
// journal is never read back into the inventory; it exists for humans.
type OperationRecord struct {
	ID        uint   `gorm:"primarykey"`
	Kind      string `gorm:"not null"`
	Plugin    string `gorm:"not null;index"`
	Success   bool   `gorm:"not null"`
	Message   string
	ElapsedMS int64
	CreatedAt time.Time
}

// Journal records finished operations in a sqlite database under the
// user's home directory.
type Journal struct {
	db *gorm.DB
}

func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, journalDir, journalFile)
}

func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %v", err)
	}

	if err := db.AutoMigrate(&OperationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema: %v", err)
	}

	return &Journal{db: db}, nil
}

// Record appends a row. Journal failures are logged, never surfaced; the
// operation already finished and its outcome stands.
func (j *Journal) Record(kind, plugin string, success bool, message string, elapsed time.Duration) {
	rec := OperationRecord{
		Kind:      kind,
		Plugin:    plugin,
		Success:   success,
		Message:   message,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Printf("history: failed to record operation: %v", err)
	}
}

// Recent returns the latest records, newest first.
func (j *Journal) Recent(limit int) ([]OperationRecord, error) {
	var records []OperationRecord
	err := j.db.Order("id desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %v", err)
	}
	return records, nil
}
