package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/attendance"
)

// ChatRequestRecord is the persisted mirror of attendance.ChatRequest.
type ChatRequestRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	Phone         string `gorm:"size:20;index"`
	LastMessage   string `gorm:"type:text"`
	MessageCount  int
	Status        string `gorm:"size:16;index"`
	OperatorID    string `gorm:"size:36;index"`
	Timestamp     time.Time
	FirstQueuedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ChatRequestRecord) TableName() string { return "chat_requests" }

// OperatorRecord is the operator roster row.
type OperatorRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Status    string `gorm:"size:16"`
	MaxChats  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OperatorRecord) TableName() string { return "operators" }

// Postgres implements attendance.Store over gorm.
type Postgres struct {
	db *gorm.DB
}

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return &Postgres{db: db}, nil
}

// Migrate creates or updates the schema.
func (p *Postgres) Migrate() error {
	if err := p.db.AutoMigrate(&ChatRequestRecord{}, &OperatorRecord{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

func (p *Postgres) SaveChatRequest(ctx context.Context, req attendance.ChatRequest) error {
	rec := recordOf(req)
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save chat request: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateChatRequest(ctx context.Context, req attendance.ChatRequest) error {
	err := p.db.WithContext(ctx).
		Model(&ChatRequestRecord{ID: req.ID}).
		Updates(updateColumnsOf(req)).Error
	if err != nil {
		return fmt.Errorf("update chat request: %w", err)
	}
	return nil
}

// updateColumnsOf lists the mutable columns of a chat request row;
// created_at is set once on insert and never touched again.
func updateColumnsOf(req attendance.ChatRequest) map[string]any {
	return map[string]any{
		"phone":           req.Phone,
		"last_message":    req.LastMessage,
		"message_count":   req.MessageCount,
		"status":          string(req.Status),
		"operator_id":     req.OperatorID,
		"timestamp":       req.Timestamp,
		"first_queued_at": req.FirstQueuedAt,
	}
}

func (p *Postgres) ListOperators(ctx context.Context) ([]attendance.Operator, error) {
	var recs []OperatorRecord
	if err := p.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	out := make([]attendance.Operator, 0, len(recs))
	for _, r := range recs {
		out = append(out, attendance.Operator{
			ID:       r.ID,
			Status:   attendance.OperatorStatus(r.Status),
			MaxChats: r.MaxChats,
		})
	}
	return out, nil
}

func recordOf(req attendance.ChatRequest) ChatRequestRecord {
	return ChatRequestRecord{
		ID:            req.ID,
		Phone:         req.Phone,
		LastMessage:   req.LastMessage,
		MessageCount:  req.MessageCount,
		Status:        string(req.Status),
		OperatorID:    req.OperatorID,
		Timestamp:     req.Timestamp,
		FirstQueuedAt: req.FirstQueuedAt,
	}
}
