package kvstore

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/proclean/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one persisted key-value pair.
type Entry struct {
	Key       string    `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// SQLiteBackend stores entries in a local SQLite database, the desktop shell's
// secure store.
type SQLiteBackend struct {
	db    *gorm.DB
	clock func() time.Time
}

// OpenSQLiteBackend opens or creates the database at path.
func OpenSQLiteBackend(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	db, err := database.OpenSQLite(path, logger, []any{&Entry{}})
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db, clock: time.Now}, nil
}

func (b *SQLiteBackend) Read(key string) ([]byte, error) {
	var entry Entry
	err := b.db.Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(entry.Value), nil
}

func (b *SQLiteBackend) Write(key string, value []byte) error {
	entry := Entry{Key: key, Value: string(value), UpdatedAt: b.clock().UTC()}
	return b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (b *SQLiteBackend) Delete(key string) error {
	return b.db.Where("entry_key = ?", key).Delete(&Entry{}).Error
}

func (b *SQLiteBackend) Clear() error {
	return b.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Entry{}).Error
}

func (b *SQLiteBackend) Close() error {
	return database.Close(b.db)
}
