package auth

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/shopdesk/merchant-portal/internal/db"
)

// UserStore is the persistence the auth service needs. Lookups return
// (nil, nil) when no row matches.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
}

type GormUserStore struct {
	db *gorm.DB
}

func NewGormUserStore(d *gorm.DB) *GormUserStore {
	return &GormUserStore{db: d}
}

func (s *GormUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *GormUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *GormUserStore) findOne(ctx context.Context, query string, arg string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeout)
	defer cancel()

	var u User
	err := s.db.WithContext(ctx).Where(query, arg).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query user")
	}
	return &u, nil
}

// Create inserts u. A second account for the same email yields ErrEmailTaken.
func (s *GormUserStore) Create(ctx context.Context, u *User) error {
	ctx, cancel := context.WithTimeout(ctx, db.QueryTimeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return ErrEmailTaken
		}
		return errors.Wrap(err, "insert user")
	}
	return nil
}
