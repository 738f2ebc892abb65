package db

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopdesk/merchant-portal/internal/config"
	"github.com/shopdesk/merchant-portal/internal/logging"
)

var (
	ErrNotConnected = stderrors.New("database not connected")
	ErrDuplicateKey = stderrors.New("duplicate key")
)

// QueryTimeout bounds every repository call made on behalf of a request.
const QueryTimeout = 3 * time.Second

var (
	mu   sync.RWMutex
	pool *gorm.DB
)

// Connect opens the connection pool described by cfg and verifies it with a
// ping. On success the pool becomes the one returned by Get.
func Connect(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	case "mysql", "":
		dialector = gormmysql.Open(cfg.DSN())
	default:
		return nil, errors.Errorf("unsupported driver %q", cfg.Driver)
	}

	d, err := gorm.Open(dialector, &gorm.Config{Logger: logging.GormLogger(log)})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := d.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	mu.Lock()
	pool = d
	mu.Unlock()

	log.WithFields(logrus.Fields{
		"driver":         cfg.Driver,
		"max_open_conns": cfg.MaxOpenConns,
	}).Info("connected to database")
	return d, nil
}

// MustConnect is Connect for process start-up: the server must not come up
// without its database, so any failure exits the process.
func MustConnect(cfg config.DatabaseConfig, log *logrus.Logger) *gorm.DB {
	d, err := Connect(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	return d
}

// Get returns the shared pool, or ErrNotConnected before Connect succeeded.
func Get() (*gorm.DB, error) {
	mu.RLock()
	defer mu.RUnlock()
	if pool == nil {
		return nil, ErrNotConnected
	}
	return pool, nil
}

// Close releases the shared pool.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if pool == nil {
		return nil
	}
	sqlDB, err := pool.DB()
	pool = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsDuplicateKey reports whether err is a unique constraint violation from
// any of the supported drivers.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrDuplicateKey) || stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsForeignKeyViolation reports whether err is a rejected reference to a
// missing parent row.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == 1452
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
