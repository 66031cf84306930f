package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/api/tesla"
	"github.com/langchou/chargekeeper/internal/models"
	"github.com/langchou/chargekeeper/internal/state"
)

// VehicleDataSource 车辆数据来源
type VehicleDataSource interface {
	GetVehicleData(ctx context.Context, id int64) (*tesla.VehicleData, error)
}

// ChargeAppender 充电记录写入
type ChargeAppender interface {
	Append(cycle models.ChargeCycle)
}

// 充电中允许的连续不可达次数
const maxUnavailablePolls = 3

// TrackerConfig 轮询间隔
type TrackerConfig struct {
	PollIntervalOnline   time.Duration
	PollIntervalAsleep   time.Duration
	PollIntervalCharging time.Duration
}

// ChargeTracker 轮询车辆并识别充电过程，充电结束时写入一条 ChargeCycle
type ChargeTracker struct {
	cfg       TrackerConfig
	logger    *zap.Logger
	source    VehicleDataSource
	store     ChargeAppender
	vehicleID int64
	machine   *state.Machine

	mu          sync.Mutex
	session     *chargeSession
	unavailable int
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// chargeSession 进行中的充电过程
type chargeSession struct {
	start        time.Time
	startRange   float64
	startSOC     float64
	endRange     float64
	endSOC       float64
	lat, lng     float64
	odometer     float64
	superCharger bool
	phases       int
	energyAdded  float64

	samples     int
	peakVoltage float64
	sumVoltage  float64
	peakCurrent float64
	sumCurrent  float64
}

// NewChargeTracker 创建充电识别服务
func NewChargeTracker(cfg TrackerConfig, logger *zap.Logger, source VehicleDataSource, store ChargeAppender, vehicleID int64, initialState string) *ChargeTracker {
	t := &ChargeTracker{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		store:     store,
		vehicleID: vehicleID,
	}
	if initialState != state.StateOnline && initialState != state.StateAsleep {
		initialState = state.StateOffline
	}
	t.machine = state.NewMachine(initialState, t.onStateChange)
	return t
}

// Start 启动轮询
func (t *ChargeTracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.stopCh = make(chan struct{})
	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.pollLoop(ctx)
	t.logger.Info("Charge tracker started", zap.Int64("vehicle_id", t.vehicleID))
}

// Stop 停止轮询并等待退出
func (t *ChargeTracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("Charge tracker stopped")
}

// CurrentState 当前车辆状态
func (t *ChargeTracker) CurrentState() string {
	return t.machine.CurrentState()
}

// pollLoop 按车辆状态决定下次轮询间隔
func (t *ChargeTracker) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			t.poll(ctx)
			timer.Reset(t.pollInterval())
		}
	}
}

func (t *ChargeTracker) poll(ctx context.Context) {
	data, err := t.source.GetVehicleData(ctx, t.vehicleID)
	if err != nil {
		if errors.Is(err, tesla.ErrVehicleUnavailable) && t.treatAsAsleep() {
			t.Observe(&tesla.VehicleData{State: state.StateAsleep}, time.Now())
			return
		}
		t.logger.Warn("Failed to poll vehicle", zap.Error(err), zap.Int64("vehicle_id", t.vehicleID))
		return
	}

	t.mu.Lock()
	t.unavailable = 0
	t.mu.Unlock()
	t.Observe(data, time.Now())
}

// treatAsAsleep 车辆不可达时是否按休眠处理
// 充电中连续 maxUnavailablePolls 次不可达才结束充电，偶发超时不拆分充电过程
func (t *ChargeTracker) treatAsAsleep() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unavailable++
	if t.machine.CurrentState() != state.StateCharging {
		return true
	}
	return t.unavailable >= maxUnavailablePolls
}

func (t *ChargeTracker) pollInterval() time.Duration {
	switch t.machine.CurrentState() {
	case state.StateCharging:
		return t.cfg.PollIntervalCharging
	case state.StateOnline:
		return t.cfg.PollIntervalOnline
	default:
		return t.cfg.PollIntervalAsleep
	}
}

// Observe 处理一次轮询结果
func (t *ChargeTracker) Observe(data *tesla.VehicleData, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.machine.CurrentState()

	if data.State == state.StateAsleep || data.State == state.StateOffline {
		if current == state.StateCharging {
			t.finishCharging(now)
		}
		t.sleepOrOffline(data.State)
		return
	}

	if current == state.StateAsleep || current == state.StateOffline {
		t.trigger(state.EventWakeUp)
		current = t.machine.CurrentState()
	}

	isCharging := data.ChargeState != nil && data.ChargeState.ChargingState == "Charging"
	switch {
	case isCharging && current != state.StateCharging:
		if t.machine.CanTransition(state.EventStartCharging) {
			t.trigger(state.EventStartCharging)
			t.session = newChargeSession(data, now)
			t.session.sample(data)
		}
	case isCharging:
		t.session.sample(data)
	case current == state.StateCharging:
		t.session.update(data)
		t.finishCharging(now)
	}
}

// sleepOrOffline 转入休眠或离线
func (t *ChargeTracker) sleepOrOffline(target string) {
	switch t.machine.CurrentState() {
	case target:
	case state.StateOnline:
		if target == state.StateAsleep {
			t.trigger(state.EventFallAsleep)
		} else {
			t.trigger(state.EventGoOffline)
		}
	case state.StateAsleep:
		if target == state.StateOffline {
			t.trigger(state.EventGoOffline)
		}
	}
}

// finishCharging 结束充电并写入记录
func (t *ChargeTracker) finishCharging(now time.Time) {
	t.trigger(state.EventStopCharging)
	if t.session == nil {
		return
	}
	cycle := t.session.cycle(now)
	t.session = nil

	t.logger.Info("Charge cycle completed",
		zap.Time("start", cycle.StartedAt()),
		zap.Duration("duration", cycle.Duration()),
		zap.Float64("energy_added", cycle.EnergyAdded),
		zap.Bool("supercharger", cycle.SuperCharger))
	t.store.Append(cycle)
}

func (t *ChargeTracker) trigger(event string) {
	if err := t.machine.Trigger(event); err != nil {
		t.logger.Warn("Invalid state transition", zap.Error(err))
	}
}

func (t *ChargeTracker) onStateChange(from, to string) {
	t.logger.Info("Vehicle state changed", zap.String("from", from), zap.String("to", to))
}

func newChargeSession(data *tesla.VehicleData, now time.Time) *chargeSession {
	s := &chargeSession{start: now}
	if cs := data.ChargeState; cs != nil {
		s.startRange = cs.EstBatteryRange
		s.startSOC = float64(cs.BatteryLevel)
	}
	if ds := data.DriveState; ds != nil {
		s.lat, s.lng = ds.Latitude, ds.Longitude
	}
	s.update(data)
	return s
}

// update 记录最新的结束值
func (s *chargeSession) update(data *tesla.VehicleData) {
	if cs := data.ChargeState; cs != nil {
		s.endRange = cs.EstBatteryRange
		s.endSOC = float64(cs.BatteryLevel)
		s.energyAdded = cs.ChargeEnergyAdded
		if cs.IsSupercharger() {
			s.superCharger = true
		}
		if cs.ChargerPhases != nil && *cs.ChargerPhases > s.phases {
			s.phases = *cs.ChargerPhases
		}
	}
	if ds := data.DriveState; ds != nil && s.lat == 0 && s.lng == 0 {
		s.lat, s.lng = ds.Latitude, ds.Longitude
	}
	if vs := data.VehicleState; vs != nil && vs.Odometer > 0 {
		s.odometer = vs.Odometer
	}
}

// sample 充电中的一次采样
func (s *chargeSession) sample(data *tesla.VehicleData) {
	s.update(data)

	cs := data.ChargeState
	if cs == nil {
		return
	}
	v := float64(cs.ChargerVoltage)
	i := float64(cs.ChargerActualCurrent)
	s.samples++
	s.sumVoltage += v
	s.sumCurrent += i
	if v > s.peakVoltage {
		s.peakVoltage = v
	}
	if i > s.peakCurrent {
		s.peakCurrent = i
	}
}

func (s *chargeSession) cycle(end time.Time) models.ChargeCycle {
	c := models.ChargeCycle{
		StartTime:    s.start.UnixMilli(),
		EndTime:      end.UnixMilli(),
		SuperCharger: s.superCharger,
		Phases:       s.phases,
		StartRange:   s.startRange,
		EndRange:     s.endRange,
		StartSOC:     s.startSOC,
		EndSOC:       s.endSOC,
		Latitude:     s.lat,
		Longitude:    s.lng,
		Odometer:     s.odometer,
		PeakVoltage:  s.peakVoltage,
		PeakCurrent:  s.peakCurrent,
		EnergyAdded:  s.energyAdded,
	}
	if s.samples > 0 {
		c.AvgVoltage = s.sumVoltage / float64(s.samples)
		c.AvgCurrent = s.sumCurrent / float64(s.samples)
	}
	return c
}
