package repository

import (
	"context"
	"fmt"
	"time"
)

// SettingsRepository 偏好设置仓库（按 VIN 存键值）
type SettingsRepository struct {
	db  *DB
	vin string
}

// NewSettingsRepository 创建偏好设置仓库
func NewSettingsRepository(db *DB, vin string) *SettingsRepository {
	return &SettingsRepository{db: db, vin: vin}
}

// LoadAll 读取该车辆的全部设置
func (r *SettingsRepository) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT key, value FROM settings WHERE vin = $1`, r.vin)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}

	return values, nil
}

// Save 写入单个设置
func (r *SettingsRepository) Save(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (vin, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vin, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, r.vin, key, value, time.Now()); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}
