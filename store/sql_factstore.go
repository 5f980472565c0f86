package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentmemory/types"
)

// FactRecord is the gorm model backing SQLFactStore.
type FactRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	UserID       string    `gorm:"index;size:128;not null"`
	Content      string    `gorm:"type:text;not null"`
	Category     string    `gorm:"index;size:64"`
	Source       string    `gorm:"size:128"`
	Confidence   float64   `gorm:"index"`
	AccessCount  int       `gorm:"default:0"`
	CreatedAt    time.Time
	LastAccessed time.Time
}

// TableName sets the table name for gorm.
func (FactRecord) TableName() string { return "memory_facts" }

// SQLFactStore is a FactStore backed by a SQL database through gorm. The
// glebarez/sqlite driver is the default for embedded deployments; any gorm
// dialect works.
type SQLFactStore struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewSQLFactStore creates a SQL-backed fact store and migrates its schema.
func NewSQLFactStore(db *gorm.DB, logger *zap.Logger) (*SQLFactStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&FactRecord{}); err != nil {
		return nil, fmt.Errorf("migrate fact schema: %w", err)
	}
	return &SQLFactStore{
		db:     db,
		now:    time.Now,
		logger: logger.With(zap.String("component", "fact_store_sql")),
	}, nil
}

func (s *SQLFactStore) LearnFact(ctx context.Context, userID, content, category, source string, confidence float64) (string, error) {
	if userID == "" || content == "" {
		return "", types.NewError(types.ErrInvalidArgument, "user id and content are required")
	}

	now := s.now()
	rec := FactRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		Content:      content,
		Category:     category,
		Source:       source,
		Confidence:   clamp01(confidence),
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("create fact: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLFactStore) SearchFacts(ctx context.Context, userID, query string, limit int) ([]*types.Fact, error) {
	q := s.db.WithContext(ctx).Model(&FactRecord{}).Where("user_id = ?", userID)

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) > 0 {
		clauses := make([]string, 0, len(terms))
		args := make([]any, 0, len(terms))
		for _, t := range terms {
			clauses = append(clauses, "lower(content) LIKE ?")
			args = append(args, "%"+t+"%")
		}
		q = q.Where(strings.Join(clauses, " OR "), args...)
	}

	q = q.Order("confidence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []FactRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	return toFacts(recs), nil
}

func (s *SQLFactStore) GetFacts(ctx context.Context, userID, category string, limit int, minConfidence float64) ([]*types.Fact, error) {
	q := s.db.WithContext(ctx).Model(&FactRecord{}).
		Where("user_id = ? AND confidence >= ?", userID, minConfidence)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	q = q.Order("confidence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []FactRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return toFacts(recs), nil
}

func (s *SQLFactStore) UpdateFactConfidence(ctx context.Context, factID string, confidence float64) error {
	// Maintenance counts as access for staleness purposes, so a decayed fact
	// is not decayed again on the next pass.
	res := s.db.WithContext(ctx).Model(&FactRecord{}).
		Where("id = ?", factID).
		Updates(map[string]any{
			"confidence":    clamp01(confidence),
			"last_accessed": s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update confidence: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("fact %q not found", factID))
	}
	return nil
}

func (s *SQLFactStore) TouchFact(ctx context.Context, factID string) error {
	res := s.db.WithContext(ctx).Model(&FactRecord{}).
		Where("id = ?", factID).
		Updates(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("touch fact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("fact %q not found", factID))
	}
	return nil
}

func (s *SQLFactStore) DeleteFact(ctx context.Context, factID string) error {
	err := s.db.WithContext(ctx).Delete(&FactRecord{}, "id = ?", factID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}

func toFacts(recs []FactRecord) []*types.Fact {
	facts := make([]*types.Fact, 0, len(recs))
	for _, r := range recs {
		facts = append(facts, &types.Fact{
			ID:           r.ID,
			UserID:       r.UserID,
			Content:      r.Content,
			Category:     r.Category,
			Source:       r.Source,
			Confidence:   r.Confidence,
			AccessCount:  r.AccessCount,
			CreatedAt:    r.CreatedAt,
			LastAccessed: r.LastAccessed,
		})
	}
	return facts
}
