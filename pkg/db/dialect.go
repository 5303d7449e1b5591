package db

import (
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var ErrUnsupportedType = errors.New("unsupported_database_type")

func Dialect(cfg Config) (gorm.Dialector, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "postgres":
		// Transaction-mode poolers reject prepared statements.
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: cfg.SimpleProtocol}), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}
