package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/export"
	"github.com/langchou/chargekeeper/internal/metrics"
	"github.com/langchou/chargekeeper/internal/models"
)

// ErrInvalidExportPath 导出路径不合法（绝对路径、包含 ..、超出导出目录或扩展名不支持）
var ErrInvalidExportPath = errors.New("invalid export path")

// ChargeLoader 充电记录读取
type ChargeLoader interface {
	Load(period *models.Period) []models.ChargeCycle
}

// ExportPrefs 导出目录偏好
type ExportPrefs interface {
	LastExportDir() string
	SetLastExportDir(ctx context.Context, dir string) error
}

// ExportService 充电数据导出
type ExportService struct {
	logger   *zap.Logger
	store    ChargeLoader
	prefs    ExportPrefs
	root     string
	location *time.Location
}

// NewExportService 创建导出服务，所有导出文件都写在 root 之下
func NewExportService(logger *zap.Logger, store ChargeLoader, prefs ExportPrefs, root string, location *time.Location) *ExportService {
	if location == nil {
		location = time.Local
	}
	return &ExportService{
		logger:   logger,
		store:    store,
		prefs:    prefs,
		root:     root,
		location: location,
	}
}

// ExportResult 导出结果
type ExportResult struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Records int    `json:"records"`
}

// Export 导出指定区间的充电记录
// path 是相对文件名，以上次导出目录（不在 root 内时用 root）为基准，成功后记住新的目录
func (s *ExportService) Export(ctx context.Context, path string, period *models.Period) (*ExportResult, error) {
	path, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	format := export.FormatForPath(path)

	charges := s.store.Load(period)
	if err := export.Write(charges, path, export.Options{Location: s.location}); err != nil {
		metrics.Exports.WithLabelValues(format, "failed").Inc()
		s.logger.Error("Failed to export charge data", zap.Error(err), zap.String("path", path))
		return nil, fmt.Errorf("export charge data to %s: %w", path, err)
	}
	metrics.Exports.WithLabelValues(format, "ok").Inc()

	if err := s.prefs.SetLastExportDir(ctx, filepath.Dir(path)); err != nil {
		s.logger.Warn("Failed to remember export directory", zap.Error(err))
	}

	s.logger.Info("Exported charge data",
		zap.String("path", path),
		zap.String("format", format),
		zap.Int("records", len(charges)))
	return &ExportResult{Path: path, Format: format, Records: len(charges)}, nil
}

// resolve 把请求中的文件名解析为 root 下的绝对路径
func (s *ExportService) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidExportPath)
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidExportPath, name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s leaves the export directory", ErrInvalidExportPath, name)
		}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".csv":
	default:
		return "", fmt.Errorf("%w: %s is not .xlsx or .csv", ErrInvalidExportPath, name)
	}

	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("resolve export root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create export root: %w", err)
	}

	base := root
	if last, err := filepath.Abs(s.prefs.LastExportDir()); err == nil && within(root, last) {
		base = last
	}
	target := filepath.Join(base, name)
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s leaves the export directory", ErrInvalidExportPath, name)
	}
	return target, nil
}

// within 判断 p 是否为 root 或其子路径
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
