package gorm

import (
	"fmt"
	"time"

	"container-invoker/internal/core/functions"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New opens the Postgres database at dsn and migrates the journal schema.
func New(dsn string, lg zerolog.Logger) (*gorm.DB, error) {
	db, err := open(dsn, lg, false)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&functions.InvocationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	lg.Info().Msg("database connected")
	return db, nil
}

func open(dsn string, lg zerolog.Logger, lazy bool) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:               logger.New(zerologWriter{lg.With().Str("adapter", "gorm").Logger()}, logger.Config{SlowThreshold: time.Second, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true}),
		DisableAutomaticPing: lazy,
		NowFunc:              func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	return db, nil
}

// zerologWriter routes gorm's printf-style logger into zerolog.
type zerologWriter struct {
	lg zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...any) {
	w.lg.Warn().Msgf(format, args...)
}
