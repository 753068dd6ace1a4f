package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/petgazer/internal/models"
)

// PositionRepository 定位记录仓库
type PositionRepository struct {
	db *DB
}

// NewPositionRepository 创建定位仓库
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create 写入一条定位记录
func (r *PositionRepository) Create(ctx context.Context, pos *models.Position) error {
	query := `
		INSERT INTO positions (pet_id, latitude, longitude, accuracy, altitude, technology, battery, fix_time, contact_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		pos.PetID,
		pos.Latitude,
		pos.Longitude,
		pos.Accuracy,
		pos.Altitude,
		pos.Technology,
		pos.Battery,
		pos.FixTime,
		pos.ContactTime,
		now,
	).Scan(&pos.ID)

	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	pos.CreatedAt = now
	return nil
}

// Latest 获取宠物最近一条定位记录
func (r *PositionRepository) Latest(ctx context.Context, petID int64) (*models.Position, error) {
	query := `
		SELECT id, pet_id, latitude, longitude, accuracy, altitude, technology, battery, fix_time, contact_time, created_at
		FROM positions WHERE pet_id = $1
		ORDER BY created_at DESC LIMIT 1
	`
	pos := &models.Position{}
	err := r.db.Pool.QueryRow(ctx, query, petID).Scan(
		&pos.ID,
		&pos.PetID,
		&pos.Latitude,
		&pos.Longitude,
		&pos.Accuracy,
		&pos.Altitude,
		&pos.Technology,
		&pos.Battery,
		&pos.FixTime,
		&pos.ContactTime,
		&pos.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get latest position: %w", err)
	}
	return pos, nil
}

// ListByPet 分页获取宠物的定位历史
func (r *PositionRepository) ListByPet(ctx context.Context, petID int64, limit, offset int) ([]*models.Position, error) {
	query := `
		SELECT id, pet_id, latitude, longitude, accuracy, altitude, technology, battery, fix_time, contact_time, created_at
		FROM positions WHERE pet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, petID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos := &models.Position{}
		if err := rows.Scan(
			&pos.ID,
			&pos.PetID,
			&pos.Latitude,
			&pos.Longitude,
			&pos.Accuracy,
			&pos.Altitude,
			&pos.Technology,
			&pos.Battery,
			&pos.FixTime,
			&pos.ContactTime,
			&pos.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}
