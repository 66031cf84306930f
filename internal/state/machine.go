package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 车辆状态常量
const (
	StateOnline   = "online"
	StateAsleep   = "asleep"
	StateOffline  = "offline"
	StateCharging = "charging"
)

// 事件常量
const (
	EventWakeUp        = "wake_up"
	EventFallAsleep    = "fall_asleep"
	EventGoOffline     = "go_offline"
	EventStartCharging = "start_charging"
	EventStopCharging  = "stop_charging"
)

// Machine 车辆状态机
type Machine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	since         time.Time
	onStateChange func(from, to string)
}

// NewMachine 创建状态机
func NewMachine(initialState string, onStateChange func(from, to string)) *Machine {
	if initialState == "" {
		initialState = StateOffline
	}

	m := &Machine{
		since:         time.Now(),
		onStateChange: onStateChange,
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventWakeUp, Src: []string{StateOffline, StateAsleep}, Dst: StateOnline},
			{Name: EventFallAsleep, Src: []string{StateOnline}, Dst: StateAsleep},
			{Name: EventGoOffline, Src: []string{StateOnline, StateAsleep}, Dst: StateOffline},
			{Name: EventStartCharging, Src: []string{StateOnline}, Dst: StateCharging},
			{Name: EventStopCharging, Src: []string{StateCharging}, Dst: StateOnline},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Since 进入当前状态的时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
