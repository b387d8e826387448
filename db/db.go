package db

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Options configures the database connection
type Options struct {
	URI    string
	Logger *zap.Logger

	MaxOpenConns int
}

// Logger returns a gorm logger writing to zap. ErrRecordNotFound is handled in application logic, so it is not forwarded to zap/sentry.
func Logger(logger *zap.Logger) gormlogger.Interface {
	return zapgorm2.Logger{
		ZapLogger:                 logger,
		LogLevel:                  gormlogger.Warn,
		SlowThreshold:             time.Second,
		SkipCallerLookup:          false,
		IgnoreRecordNotFoundError: true,
	}
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.URI) == 0 {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	if option.MaxOpenConns == 0 {
		option.MaxOpenConns = 20
	}
	db, err := gorm.Open(postgres.Open(option.URI), &gorm.Config{
		Logger: Logger(option.Logger),
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(option.MaxOpenConns)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
