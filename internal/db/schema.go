package db

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type statement struct {
	table string
	sql   string
}

var mysqlSchema = []statement{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		name          VARCHAR(255) NOT NULL,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          ENUM('admin','merchant') NOT NULL DEFAULT 'merchant',
		created_at    TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY users_email_unique (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"media", `CREATE TABLE IF NOT EXISTS media (
		id         CHAR(36)      NOT NULL PRIMARY KEY,
		user_id    CHAR(36)      NOT NULL,
		file_name  VARCHAR(255)  NOT NULL,
		file_url   VARCHAR(1024) NOT NULL,
		file_type  VARCHAR(127)  NOT NULL,
		file_size  BIGINT        NOT NULL DEFAULT 0,
		created_at TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY media_user_id_idx (user_id),
		CONSTRAINT media_user_fk FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

var postgresSchema = []statement{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id            VARCHAR(36)  PRIMARY KEY,
		name          VARCHAR(255) NOT NULL,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role          VARCHAR(16)  NOT NULL DEFAULT 'merchant' CHECK (role IN ('admin', 'merchant')),
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`},
	{"media", `CREATE TABLE IF NOT EXISTS media (
		id         VARCHAR(36)   PRIMARY KEY,
		user_id    VARCHAR(36)   NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		file_name  VARCHAR(255)  NOT NULL,
		file_url   VARCHAR(1024) NOT NULL,
		file_type  VARCHAR(127)  NOT NULL,
		file_size  BIGINT        NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ   NOT NULL DEFAULT NOW()
	)`},
	{"media", `CREATE INDEX IF NOT EXISTS media_user_id_idx ON media (user_id)`},
}

var sqliteSchema = []statement{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id            TEXT     PRIMARY KEY,
		name          TEXT     NOT NULL,
		email         TEXT     NOT NULL UNIQUE,
		password_hash TEXT     NOT NULL,
		role          TEXT     NOT NULL DEFAULT 'merchant' CHECK (role IN ('admin', 'merchant')),
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"media", `CREATE TABLE IF NOT EXISTS media (
		id         TEXT     PRIMARY KEY,
		user_id    TEXT     NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		file_name  TEXT     NOT NULL,
		file_url   TEXT     NOT NULL,
		file_type  TEXT     NOT NULL,
		file_size  INTEGER  NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"media", `CREATE INDEX IF NOT EXISTS media_user_id_idx ON media (user_id)`},
}

func schemaFor(dialect string) ([]statement, error) {
	switch dialect {
	case "mysql":
		return mysqlSchema, nil
	case "postgres":
		return postgresSchema, nil
	case "sqlite":
		return sqliteSchema, nil
	default:
		return nil, errors.Errorf("no schema for dialect %q", dialect)
	}
}

// EnsureSchema creates the users and media tables when they are missing.
// Every statement is attempted even if an earlier one failed; failures are
// logged and returned joined. Existing tables are never altered.
func EnsureSchema(ctx context.Context, d *gorm.DB, log logrus.FieldLogger) error {
	if d == nil {
		return ErrNotConnected
	}
	stmts, err := schemaFor(d.Dialector.Name())
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range stmts {
		if err := d.WithContext(ctx).Exec(s.sql).Error; err != nil {
			log.WithError(err).WithField("table", s.table).Error("failed to ensure table")
			errs = append(errs, errors.Wrapf(err, "ensure table %s", s.table))
			continue
		}
		log.WithField("table", s.table).Debug("table ready")
	}
	return stderrors.Join(errs...)
}

// Init runs EnsureSchema at boot. A schema failure is logged and the process
// keeps serving; callers must tolerate a possibly incomplete schema.
func Init(ctx context.Context, d *gorm.DB, log logrus.FieldLogger) {
	if err := EnsureSchema(ctx, d, log); err != nil {
		log.WithError(err).Warn("schema setup incomplete, continuing")
		return
	}
	log.Info("schema ready")
}
