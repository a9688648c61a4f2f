package base

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier общий интерфейс пула и транзакции
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

// DB обёртка над пулом с поддержкой транзакции в контексте.
// Репозитории получают соединение через Conn: внутри WithTx это
// транзакция, снаружи — пул.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB создаёт обёртку над пулом соединений
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Pool возвращает пул соединений
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Conn возвращает активную транзакцию из контекста либо пул
func (d *DB) Conn(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return d.pool
}

// WithTx выполняет fn внутри транзакции. Вложенный вызов
// переиспользует уже открытую транзакцию из контекста.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// TxFromContext возвращает транзакцию из контекста (nil если её нет)
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// InTx сообщает выполняется ли контекст внутри открытой транзакции
func (d *DB) InTx(ctx context.Context) bool {
	return TxFromContext(ctx) != nil
}

// IsNotFound проверяет является ли ошибка "строка не найдена"
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation проверяет нарушение уникального индекса
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsRetryable проверяет стоит ли повторить транзакцию целиком:
// deadlock_detected и serialization_failure безопасно перезапускать.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
