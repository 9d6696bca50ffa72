package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bay-allocation-backend/internal/model"
)

// Store defines the interface for all database operations on bays and requests.
type Store interface {
	ListBays(ctx context.Context) ([]model.Bay, error)
	GetBay(ctx context.Context, id int64) (model.Bay, error)
	ListRequests(ctx context.Context) ([]model.Request, error)
	GetRequest(ctx context.Context, id int64) (model.Request, error)
	FindRequests(ctx context.Context, filter RequestFilter) ([]model.Request, error)
	// LastRequestID returns the largest request id ever stored, cancelled
	// requests included, or 0.
	LastRequestID(ctx context.Context) (int64, error)
	// LastSeq returns the checkpointed event sequence, or 0.
	LastSeq(ctx context.Context) (uint64, error)
	SaveBays(ctx context.Context, bays []model.Bay) error
	Apply(ctx context.Context, m Mutation) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for handlers that manage their own tables.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) ListBays(ctx context.Context) ([]model.Bay, error) {
	var bays []model.Bay
	if err := s.db.WithContext(ctx).Order("id").Find(&bays).Error; err != nil {
		return nil, fmt.Errorf("failed to list bays: %w", err)
	}
	return bays, nil
}

func (s *gormStore) GetBay(ctx context.Context, id int64) (model.Bay, error) {
	var bay model.Bay
	if err := s.db.WithContext(ctx).First(&bay, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Bay{}, fmt.Errorf("bay %d: %w", id, ErrNotFound)
		}
		return model.Bay{}, fmt.Errorf("failed to get bay %d: %w", id, err)
	}
	return bay, nil
}

func (s *gormStore) ListRequests(ctx context.Context) ([]model.Request, error) {
	return s.FindRequests(ctx, RequestFilter{})
}

func (s *gormStore) GetRequest(ctx context.Context, id int64) (model.Request, error) {
	var req model.Request
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Request{}, fmt.Errorf("request %d: %w", id, ErrNotFound)
		}
		return model.Request{}, fmt.Errorf("failed to get request %d: %w", id, err)
	}
	return req, nil
}

func (s *gormStore) FindRequests(ctx context.Context, filter RequestFilter) ([]model.Request, error) {
	q := s.db.WithContext(ctx).Model(&model.Request{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.BayID != 0 {
		q = q.Where("requested_bay_id = ?", filter.BayID)
	}

	var requests []model.Request
	if err := q.Order("id").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to find requests: %w", err)
	}
	return requests, nil
}

func (s *gormStore) LastRequestID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.WithContext(ctx).Unscoped().Model(&model.Request{}).
		Select("COALESCE(MAX(id), 0)").Scan(&id).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read last request id: %w", err)
	}
	return id, nil
}

func (s *gormStore) LastSeq(ctx context.Context) (uint64, error) {
	var cp model.Checkpoint
	if err := s.db.WithContext(ctx).Limit(1).Find(&cp, model.CheckpointID).Error; err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return uint64(cp.Seq), nil
}

// SaveBays upserts the given bays by id.
func (s *gormStore) SaveBays(ctx context.Context, bays []model.Bay) error {
	if len(bays) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsert(tx, &bays)
	})
}

// Apply persists a committed transition in a single transaction.
func (s *gormStore) Apply(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(m.Bays) > 0 {
			if err := upsert(tx, &m.Bays); err != nil {
				return fmt.Errorf("failed to save bays: %w", err)
			}
		}
		if len(m.Requests) > 0 {
			if err := upsert(tx, &m.Requests); err != nil {
				return fmt.Errorf("failed to save requests: %w", err)
			}
		}
		for _, id := range m.DeletedRequestIDs {
			if err := tx.Delete(&model.Request{}, id).Error; err != nil {
				return fmt.Errorf("failed to delete request %d: %w", id, err)
			}
		}
		if m.Seq > 0 {
			cp := model.Checkpoint{ID: model.CheckpointID, Seq: int64(m.Seq)}
			if err := upsert(tx, &cp); err != nil {
				return fmt.Errorf("failed to save checkpoint: %w", err)
			}
		}
		return nil
	})
}

// SeedBays creates count Free bays numbered 1..count when the bay table is empty.
func SeedBays(ctx context.Context, s Store, count int) error {
	existing, err := s.ListBays(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Printf("Found %d existing bays, skipping seed.", len(existing))
		return nil
	}

	bays := make([]model.Bay, 0, count)
	for n := 1; n <= count; n++ {
		bays = append(bays, model.Bay{ID: int64(n), Number: n, Status: model.BayFree})
	}
	log.Printf("Seeding %d bays...", count)
	return s.SaveBays(ctx, bays)
}

func upsert(tx *gorm.DB, records any) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(records).Error
}
