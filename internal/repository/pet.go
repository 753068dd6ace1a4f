package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/petgazer/internal/models"
)

// PetRepository 宠物数据仓库
type PetRepository struct {
	db *DB
}

// NewPetRepository 创建宠物仓库
func NewPetRepository(db *DB) *PetRepository {
	return &PetRepository{db: db}
}

// Upsert 按 pet_id 插入或更新宠物
func (r *PetRepository) Upsert(ctx context.Context, pet *models.Pet) error {
	query := `
		INSERT INTO pets (pet_id, kippy_id, name, kind, imei, serial, device_model, firmware, expired_days, update_frequency, energy_saving, gps_on_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (pet_id) DO UPDATE SET
			kippy_id = EXCLUDED.kippy_id,
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			imei = EXCLUDED.imei,
			serial = EXCLUDED.serial,
			device_model = EXCLUDED.device_model,
			firmware = EXCLUDED.firmware,
			expired_days = EXCLUDED.expired_days,
			update_frequency = EXCLUDED.update_frequency,
			energy_saving = EXCLUDED.energy_saving,
			gps_on_default = EXCLUDED.gps_on_default,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		pet.PetID,
		pet.KippyID,
		pet.Name,
		pet.Kind,
		pet.IMEI,
		pet.Serial,
		pet.DeviceModel,
		pet.Firmware,
		pet.ExpiredDays,
		pet.UpdateFrequency,
		pet.EnergySaving,
		pet.GPSOnDefault,
		now,
	).Scan(&pet.ID, &pet.CreatedAt)

	if err != nil {
		return fmt.Errorf("upsert pet: %w", err)
	}

	pet.UpdatedAt = now
	return nil
}

// GetByPetID 通过宠物 ID 获取
func (r *PetRepository) GetByPetID(ctx context.Context, petID int64) (*models.Pet, error) {
	query := `
		SELECT id, pet_id, kippy_id, name, kind, imei, serial, device_model, firmware, expired_days, update_frequency, energy_saving, gps_on_default, created_at, updated_at
		FROM pets WHERE pet_id = $1
	`
	pet := &models.Pet{}
	err := r.db.Pool.QueryRow(ctx, query, petID).Scan(
		&pet.ID,
		&pet.PetID,
		&pet.KippyID,
		&pet.Name,
		&pet.Kind,
		&pet.IMEI,
		&pet.Serial,
		&pet.DeviceModel,
		&pet.Firmware,
		&pet.ExpiredDays,
		&pet.UpdateFrequency,
		&pet.EnergySaving,
		&pet.GPSOnDefault,
		&pet.CreatedAt,
		&pet.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get pet by pet_id: %w", err)
	}
	return pet, nil
}

// List 获取全部宠物
func (r *PetRepository) List(ctx context.Context) ([]*models.Pet, error) {
	query := `
		SELECT id, pet_id, kippy_id, name, kind, imei, serial, device_model, firmware, expired_days, update_frequency, energy_saving, gps_on_default, created_at, updated_at
		FROM pets ORDER BY pet_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pets: %w", err)
	}
	defer rows.Close()

	var pets []*models.Pet
	for rows.Next() {
		pet := &models.Pet{}
		if err := rows.Scan(
			&pet.ID,
			&pet.PetID,
			&pet.KippyID,
			&pet.Name,
			&pet.Kind,
			&pet.IMEI,
			&pet.Serial,
			&pet.DeviceModel,
			&pet.Firmware,
			&pet.ExpiredDays,
			&pet.UpdateFrequency,
			&pet.EnergySaving,
			&pet.GPSOnDefault,
			&pet.CreatedAt,
			&pet.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pet: %w", err)
		}
		pets = append(pets, pet)
	}
	return pets, rows.Err()
}

// UpdateSettings 更新本地缓存的设备设置
func (r *PetRepository) UpdateSettings(ctx context.Context, petID int64, updateFrequency *int64, energySaving *bool, gpsOnDefault *bool) error {
	query := `
		UPDATE pets SET
			update_frequency = COALESCE($2, update_frequency),
			energy_saving = COALESCE($3, energy_saving),
			gps_on_default = COALESCE($4, gps_on_default),
			updated_at = NOW()
		WHERE pet_id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, petID, updateFrequency, energySaving, gpsOnDefault)
	if err != nil {
		return fmt.Errorf("update pet settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update pet settings: pet %d not found", petID)
	}
	return nil
}
