package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier 仓库层使用的最小数据库接口。
// *pgxpool.Pool 和 pgxmock 都满足该接口，便于测试替换。
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB 数据库连接池封装
type DB struct {
	Pool Querier

	pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool, pool: pool}, nil
}

// NewWithQuerier 用现有查询器构造 DB，测试时注入 mock
func NewWithQuerier(q Querier) *DB {
	return &DB{Pool: q}
}

// Close 关闭连接池
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreatePets,
		migrationCreatePositions,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreatePets = `
CREATE TABLE IF NOT EXISTS pets (
    id BIGSERIAL PRIMARY KEY,
    pet_id BIGINT NOT NULL UNIQUE,
    kippy_id BIGINT NOT NULL,
    name VARCHAR(255),
    kind VARCHAR(50),
    imei VARCHAR(32),
    serial VARCHAR(64),
    device_model VARCHAR(64),
    firmware VARCHAR(64),
    expired_days BIGINT,
    update_frequency BIGINT,
    energy_saving BOOLEAN DEFAULT false,
    gps_on_default BOOLEAN,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_pets_pet_id ON pets(pet_id);
CREATE INDEX IF NOT EXISTS idx_pets_kippy_id ON pets(kippy_id);
`

const migrationCreatePositions = `
CREATE TABLE IF NOT EXISTS positions (
    id BIGSERIAL PRIMARY KEY,
    pet_id BIGINT NOT NULL REFERENCES pets(pet_id),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    accuracy DOUBLE PRECISION,
    altitude DOUBLE PRECISION,
    technology VARCHAR(32),
    battery DOUBLE PRECISION,
    fix_time TIMESTAMP WITH TIME ZONE,
    contact_time TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_positions_pet_id ON positions(pet_id);
CREATE INDEX IF NOT EXISTS idx_positions_created_at ON positions(created_at);
`
