package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 偏好设置键
const (
	KeySubmitAnonData = "submit_anon_data"
	KeyIncludeLocData = "include_loc_data"
	KeyDitherAmount   = "dither_amount"
	KeyLastExportDir  = "last_export_dir"
	KeyVehicleUUID    = "vehicle_uuid"
)

// ErrInvalidDitherAmount 抖动等级超出 [0, 10]
var ErrInvalidDitherAmount = errors.New("dither amount out of range [0, 10]")

// Backend 持久化后端
type Backend interface {
	LoadAll(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, key, value string) error
}

// Defaults 未设置时的默认值
type Defaults struct {
	SubmitAnonData bool
	IncludeLocData bool
	DitherAmount   float64
}

// Preferences 对外暴露的设置快照
type Preferences struct {
	SubmitAnonData bool    `json:"submit_anon_data"`
	IncludeLocData bool    `json:"include_loc_data"`
	DitherAmount   float64 `json:"dither_amount"`
	LastExportDir  string  `json:"last_export_dir"`
}

// Patch 部分更新，nil 字段保持不变
type Patch struct {
	SubmitAnonData *bool    `json:"submit_anon_data"`
	IncludeLocData *bool    `json:"include_loc_data"`
	DitherAmount   *float64 `json:"dither_amount"`
	LastExportDir  *string  `json:"last_export_dir"`
}

// Store 偏好设置存储
// 内存中保存全部键值，backend 不为 nil 时写穿到持久化层
type Store struct {
	logger   *zap.Logger
	backend  Backend
	defaults Defaults

	mu     sync.RWMutex
	values map[string]string
}

// New 创建偏好设置存储，backend 可为 nil
func New(ctx context.Context, backend Backend, defaults Defaults, logger *zap.Logger) (*Store, error) {
	s := &Store{
		logger:   logger,
		backend:  backend,
		defaults: defaults,
		values:   make(map[string]string),
	}

	if backend != nil {
		values, err := backend.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("load preferences: %w", err)
		}
		for k, v := range values {
			s.values[k] = v
		}
		logger.Info("Loaded preferences", zap.Int("count", len(values)))
	}

	return s, nil
}

// SubmitAnonData 是否提交匿名充电数据
func (s *Store) SubmitAnonData() bool {
	return s.getBool(KeySubmitAnonData, s.defaults.SubmitAnonData)
}

// IncludeLocData 提交时是否包含位置
func (s *Store) IncludeLocData() bool {
	return s.getBool(KeyIncludeLocData, s.defaults.IncludeLocData)
}

// DitherAmount 位置抖动等级，值越大偏移越小
func (s *Store) DitherAmount() float64 {
	s.mu.RLock()
	raw, ok := s.values[KeyDitherAmount]
	s.mu.RUnlock()
	if !ok {
		return s.defaults.DitherAmount
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn("Invalid dither amount preference", zap.String("value", raw))
		return s.defaults.DitherAmount
	}
	return v
}

// LastExportDir 上次导出目录，默认用户主目录
func (s *Store) LastExportDir() string {
	s.mu.RLock()
	dir, ok := s.values[KeyLastExportDir]
	s.mu.RUnlock()
	if ok && dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// VehicleUUID 车辆匿名标识，首次访问时生成并保存
func (s *Store) VehicleUUID(ctx context.Context) (string, error) {
	s.mu.RLock()
	id, ok := s.values[KeyVehicleUUID]
	s.mu.RUnlock()
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.set(ctx, KeyVehicleUUID, id); err != nil {
		return "", err
	}
	s.logger.Info("Generated vehicle uuid", zap.String("uuid", id))
	return id, nil
}

// Snapshot 当前设置快照
func (s *Store) Snapshot() Preferences {
	return Preferences{
		SubmitAnonData: s.SubmitAnonData(),
		IncludeLocData: s.IncludeLocData(),
		DitherAmount:   s.DitherAmount(),
		LastExportDir:  s.LastExportDir(),
	}
}

// Apply 应用部分更新
func (s *Store) Apply(ctx context.Context, p Patch) error {
	if p.DitherAmount != nil && (*p.DitherAmount < 0 || *p.DitherAmount > 10) {
		return fmt.Errorf("%w: %v", ErrInvalidDitherAmount, *p.DitherAmount)
	}

	if p.SubmitAnonData != nil {
		if err := s.set(ctx, KeySubmitAnonData, strconv.FormatBool(*p.SubmitAnonData)); err != nil {
			return err
		}
	}
	if p.IncludeLocData != nil {
		if err := s.set(ctx, KeyIncludeLocData, strconv.FormatBool(*p.IncludeLocData)); err != nil {
			return err
		}
	}
	if p.DitherAmount != nil {
		if err := s.set(ctx, KeyDitherAmount, strconv.FormatFloat(*p.DitherAmount, 'f', -1, 64)); err != nil {
			return err
		}
	}
	if p.LastExportDir != nil {
		if err := s.SetLastExportDir(ctx, *p.LastExportDir); err != nil {
			return err
		}
	}
	return nil
}

// SetLastExportDir 记住导出目录
func (s *Store) SetLastExportDir(ctx context.Context, dir string) error {
	return s.set(ctx, KeyLastExportDir, dir)
}

func (s *Store) getBool(key string, def bool) bool {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("Invalid boolean preference", zap.String("key", key), zap.String("value", raw))
		return def
	}
	return b
}

// set 先持久化再更新内存
func (s *Store) set(ctx context.Context, key, value string) error {
	if s.backend != nil {
		if err := s.backend.Save(ctx, key, value); err != nil {
			return fmt.Errorf("save preference %s: %w", key, err)
		}
	}

	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}
