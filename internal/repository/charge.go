package repository

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/metrics"
	"github.com/langchou/chargekeeper/internal/models"
)

const (
	chargeLogSuffix  = ".charge.json"
	maxChargeLogLine = 1 << 20
)

// 错误定义
var (
	ErrOpenChargeLog   = errors.New("open charge log")
	ErrChargeLogClosed = errors.New("charge log closed")

	errEmptyChargeCycle = errors.New("charge cycle without start time")
)

// ChargeLogStore 充电记录日志（每辆车一个文件，每行一个 JSON）
// 文件是唯一数据源，不做内存缓存
type ChargeLogStore struct {
	logger *zap.Logger
	path   string

	mu     sync.Mutex
	file   *os.File
	closed bool
	hooks  []func(models.ChargeCycle)
}

// ChargeLogPath 返回车辆充电日志文件路径
func ChargeLogPath(dir, vin string) string {
	return filepath.Join(dir, vin+chargeLogSuffix)
}

// OpenChargeLog 以追加模式打开（不存在则创建）充电日志
func OpenChargeLog(vin, dir string, logger *zap.Logger) (*ChargeLogStore, error) {
	if vin == "" {
		return nil, fmt.Errorf("%w: empty vin", ErrOpenChargeLog)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenChargeLog, err)
	}

	path := ChargeLogPath(dir, vin)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenChargeLog, err)
	}

	torn, err := terminateTornLine(path, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpenChargeLog, err)
	}
	if torn {
		logger.Warn("Terminated torn trailing line in charge log", zap.String("path", path))
	}

	logger.Info("Opened charge log", zap.String("path", path))
	return &ChargeLogStore{
		logger: logger,
		path:   path,
		file:   f,
	}, nil
}

// terminateTornLine 文件末尾不是换行时补一个，新记录不会接在中断写入的残行后面
func terminateTornLine(path string, f *os.File) (bool, error) {
	r, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	info, err := r.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	if last[0] == '\n' {
		return false, nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return false, err
	}
	return true, nil
}

// Path 日志文件路径
func (s *ChargeLogStore) Path() string {
	return s.path
}

// OnAppend 注册追加成功后的回调，按注册顺序同步执行
func (s *ChargeLogStore) OnAppend(hook func(models.ChargeCycle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Append 追加一条充电记录
// 写入失败只记录日志，不影响车辆监控主流程
func (s *ChargeLogStore) Append(cycle models.ChargeCycle) {
	data, err := json.Marshal(cycle)
	if err != nil {
		s.logger.Error("Failed to encode charge cycle", zap.Error(err))
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Error("Dropped charge cycle, log already closed", zap.Int64("start_time", cycle.StartTime))
		return
	}
	_, err = s.file.Write(data)
	hooks := make([]func(models.ChargeCycle), len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	if err != nil {
		metrics.ChargeLogErrors.WithLabelValues("append").Inc()
		s.logger.Error("Failed to append charge cycle", zap.Error(err), zap.String("path", s.path))
		return
	}
	metrics.ChargeCyclesAppended.Inc()

	for _, hook := range hooks {
		hook(cycle)
	}
}

// Load 读取全部或指定区间内的充电记录，保持文件顺序
// 文件缺失、读错误、格式错误的行都只记录警告
func (s *ChargeLogStore) Load(period *models.Period) []models.ChargeCycle {
	s.mu.Lock()
	defer s.mu.Unlock()

	charges := []models.ChargeCycle{}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Charge log not found", zap.String("path", s.path))
		} else {
			metrics.ChargeLogErrors.WithLabelValues("open").Inc()
			s.logger.Warn("Could not open charge log", zap.Error(err), zap.String("path", s.path))
		}
		return charges
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChargeLogLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()

		var cycle models.ChargeCycle
		err := json.Unmarshal(line, &cycle)
		if err == nil && cycle.StartTime == 0 {
			err = errEmptyChargeCycle
		}
		if err != nil {
			metrics.ChargeLogErrors.WithLabelValues("malformed").Inc()
			s.logger.Warn("Skipping malformed charge log line",
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}

		if period.Contains(cycle.StartTime) {
			charges = append(charges, cycle)
		}
	}
	if err := scanner.Err(); err != nil {
		metrics.ChargeLogErrors.WithLabelValues("read").Inc()
		s.logger.Warn("Problem reading charge log", zap.Error(err), zap.Int("line", lineNo+1))
	}

	return charges
}

// Close 关闭日志文件，之后不可再写入
func (s *ChargeLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrChargeLogClosed
	}
	s.closed = true

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close charge log: %w", err)
	}
	s.logger.Info("Closed charge log", zap.String("path", s.path))
	return nil
}
