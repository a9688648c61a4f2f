package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrator обёртка над goose
type Migrator struct {
	db             *sql.DB
	migrationsPath string
	logger         *zap.Logger
}

// NewMigrator создаёт новый мигратор
func NewMigrator(pool *pgxpool.Pool, migrationsPath string, logger *zap.Logger) (*Migrator, error) {
	// Устанавливаем диалект для PostgreSQL
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}

	// Goose работает с *sql.DB, поэтому создаём его поверх пула
	db := stdlib.OpenDBFromPool(pool)

	return &Migrator{
		db:             db,
		migrationsPath: migrationsPath,
		logger:         logger,
	}, nil
}

// Run применяет все pending миграции
func (mg *Migrator) Run(ctx context.Context) error {
	mg.logger.Info("Applying database migrations", zap.String("path", mg.migrationsPath))

	if err := goose.UpContext(ctx, mg.db, mg.migrationsPath); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, mg.db)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	mg.logger.Info("Migrations applied", zap.Int64("version", version))
	return nil
}

// Close закрывает соединение мигратора
func (mg *Migrator) Close() error {
	// Закрываем sql.DB, но не пул (он управляется в main)
	if mg.db != nil {
		return mg.db.Close()
	}
	return nil
}
