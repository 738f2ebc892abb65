package media

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/shopdesk/merchant-portal/internal/db"
)

var ErrNotFound = errors.New("media not found")

type Store struct {
	db *gorm.DB
}

func NewStore(d *gorm.DB) *Store {
	return &Store{db: d}
}

// ListByUser returns the user's media, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Media, error) {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeout)
	defer cancel()

	items := []Media{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id").
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "list media")
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Media, error) {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeout)
	defer cancel()

	var m Media
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get media")
	}
	return &m, nil
}

func (s *Store) Create(ctx context.Context, m *Media) error {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "insert media")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeout)
	defer cancel()

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Media{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete media")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
