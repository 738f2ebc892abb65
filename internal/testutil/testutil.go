package testutil

import (
	"context"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopdesk/merchant-portal/internal/config"
	"github.com/shopdesk/merchant-portal/internal/db"
	"github.com/shopdesk/merchant-portal/internal/logging"
)

// OpenInMemoryDB opens a private in-memory SQLite database with the portal
// schema applied. The handle is closed when the test ends.
func OpenInMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache so every pooled connection sees the same database.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()[:8]
	d, err := db.Connect(config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.EnsureSchema(context.Background(), d, logging.Discard()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return d
}

// GenerateJWTHS256 signs arbitrary claims, for building tokens the portal
// itself would never issue.
func GenerateJWTHS256(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}
