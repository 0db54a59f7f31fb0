package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type blockRow struct {
	RowID     uint   `gorm:"primaryKey"`
	AgentID   string `gorm:"size:128;uniqueIndex:idx_block_agent_label"`
	Label     string `gorm:"size:64;uniqueIndex:idx_block_agent_label"`
	Value     string
	CharLimit int
	UpdatedAt time.Time
}

func (blockRow) TableName() string { return "core_memory_blocks" }

type recordRow struct {
	RowID     uint   `gorm:"primaryKey"`
	ID        string `gorm:"size:36;uniqueIndex"`
	AgentID   string `gorm:"size:128;index"`
	Role      string `gorm:"size:32"`
	Name      string `gorm:"size:128"`
	Content   string
	Folded    string
	CreatedAt time.Time
}

func (recordRow) TableName() string { return "recall_messages" }

type passageRow struct {
	RowID     uint   `gorm:"primaryKey"`
	ID        string `gorm:"size:36;uniqueIndex"`
	AgentID   string `gorm:"size:128;index"`
	Text      string
	Folded    string
	CreatedAt time.Time
}

func (passageRow) TableName() string { return "archival_passages" }

// SQLStore persists memory through gorm.
type SQLStore struct {
	db *gorm.DB
}

// Open opens a SQLite database at dsn and migrates the memory tables.
// Use "file::memory:" for a throwaway database.
func Open(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	// An in-memory database exists per connection.
	sqlDB.SetMaxOpenConns(1)
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing gorm connection and migrates the memory tables.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&blockRow{}, &recordRow{}, &passageRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	if err := backfillFolded(db); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// backfillFolded fills the search column of rows written before it existed.
func backfillFolded(db *gorm.DB) error {
	var records []recordRow
	if err := db.Where("folded = '' AND content <> ''").Find(&records).Error; err != nil {
		return fmt.Errorf("backfill recall messages: %w", err)
	}
	for _, r := range records {
		if err := db.Model(&r).Update("folded", fold(r.Content)).Error; err != nil {
			return fmt.Errorf("backfill recall messages: %w", err)
		}
	}

	var passages []passageRow
	if err := db.Where("folded = '' AND text <> ''").Find(&passages).Error; err != nil {
		return fmt.Errorf("backfill archival passages: %w", err)
	}
	for _, p := range passages {
		if err := db.Model(&p).Update("folded", fold(p.Text)).Error; err != nil {
			return fmt.Errorf("backfill archival passages: %w", err)
		}
	}
	return nil
}

// LoadBlocks returns the saved blocks for an agent in the order they were first saved.
func (s *SQLStore) LoadBlocks(ctx context.Context, agentID string) ([]Block, error) {
	var rows []blockRow
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("row_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load core memory: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]Block, 0, len(rows))
	for _, r := range rows {
		out = append(out, Block{Label: r.Label, Value: r.Value, Limit: r.CharLimit})
	}
	return out, nil
}

// SaveBlock upserts a block by label.
func (s *SQLStore) SaveBlock(ctx context.Context, agentID string, block Block) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row blockRow
		err := tx.Where("agent_id = ? AND label = ?", agentID, block.Label).Limit(1).Find(&row).Error
		if err != nil {
			return fmt.Errorf("save core memory: %w", err)
		}
		row.AgentID = agentID
		row.Label = block.Label
		row.Value = block.Value
		row.CharLimit = block.Limit
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save core memory: %w", err)
		}
		return nil
	})
}

// AppendRecord adds a message to recall memory, assigning an ID and timestamp when missing.
func (s *SQLStore) AppendRecord(ctx context.Context, agentID string, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	row := recordRow{
		ID:        rec.ID,
		AgentID:   agentID,
		Role:      rec.Role,
		Name:      rec.Name,
		Content:   rec.Content,
		Folded:    fold(rec.Content),
		CreatedAt: rec.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Record{}, fmt.Errorf("append recall message: %w", err)
	}
	return rec, nil
}

// SearchRecords returns one page of matching records, oldest first, and the total match count.
func (s *SQLStore) SearchRecords(ctx context.Context, agentID string, q Query) ([]Record, int, error) {
	q = q.normalized()

	base := s.db.WithContext(ctx).Model(&recordRow{}).Where("agent_id = ?", agentID)
	base = keyword(base, q.Text).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count recall messages: %w", err)
	}

	var rows []recordRow
	if err := base.Order("row_id").Offset(q.Page * q.PageSize).Limit(q.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("search recall messages: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{ID: r.ID, Role: r.Role, Name: r.Name, Content: r.Content, CreatedAt: r.CreatedAt})
	}
	return out, int(total), nil
}

// CountRecords returns the number of records stored for an agent.
func (s *SQLStore) CountRecords(ctx context.Context, agentID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&recordRow{}).Where("agent_id = ?", agentID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count recall messages: %w", err)
	}
	return int(n), nil
}

// InsertPassage stores text in archival memory.
func (s *SQLStore) InsertPassage(ctx context.Context, agentID, text string) (Passage, error) {
	row := passageRow{ID: uuid.NewString(), AgentID: agentID, Text: text, Folded: fold(text), CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Passage{}, fmt.Errorf("insert archival passage: %w", err)
	}
	return Passage{ID: row.ID, Text: row.Text, CreatedAt: row.CreatedAt}, nil
}

// SearchPassages returns one page of matching passages and the total match count.
func (s *SQLStore) SearchPassages(ctx context.Context, agentID string, q Query) ([]Passage, int, error) {
	q = q.normalized()

	base := s.db.WithContext(ctx).Model(&passageRow{}).Where("agent_id = ?", agentID)
	base = keyword(base, q.Text).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count archival passages: %w", err)
	}

	var rows []passageRow
	if err := base.Order("row_id").Offset(q.Page * q.PageSize).Limit(q.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("search archival passages: %w", err)
	}

	out := make([]Passage, 0, len(rows))
	for _, r := range rows {
		out = append(out, Passage{ID: r.ID, Text: r.Text, CreatedAt: r.CreatedAt})
	}
	return out, int(total), nil
}

// CountPassages returns the number of passages stored for an agent.
func (s *SQLStore) CountPassages(ctx context.Context, agentID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&passageRow{}).Where("agent_id = ?", agentID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count archival passages: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// fold lowercases text for the folded search column. SQLite's LOWER only folds
// ASCII, so folding happens here to match the in-memory store.
func fold(text string) string {
	return strings.ToLower(text)
}

func keyword(db *gorm.DB, text string) *gorm.DB {
	if text == "" {
		return db
	}
	pattern := "%" + likeEscaper.Replace(fold(text)) + "%"
	return db.Where("folded LIKE ? ESCAPE '\\'", pattern)
}
