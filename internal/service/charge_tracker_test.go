package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/api/tesla"
	"github.com/langchou/chargekeeper/internal/models"
	"github.com/langchou/chargekeeper/internal/state"
)

type memAppender struct {
	mu     sync.Mutex
	cycles []models.ChargeCycle
}

func (m *memAppender) Append(c models.ChargeCycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, c)
}

func (m *memAppender) all() []models.ChargeCycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChargeCycle(nil), m.cycles...)
}

func intPtr(v int) *int { return &v }

func vehicleData(chargingState string, soc int, rangeMi float64, volts, amps int, energy float64) *tesla.VehicleData {
	return &tesla.VehicleData{
		State: "online",
		ChargeState: &tesla.ChargeState{
			BatteryLevel:         soc,
			EstBatteryRange:      rangeMi,
			ChargingState:        chargingState,
			ChargerVoltage:       volts,
			ChargerActualCurrent: amps,
			ChargerPhases:        intPtr(1),
			ChargeEnergyAdded:    energy,
		},
		DriveState:   &tesla.DriveState{Latitude: 37.4925, Longitude: -121.9446},
		VehicleState: &tesla.VehicleState{Odometer: 21034.7},
	}
}

func newTestTracker(store ChargeAppender, initial string) *ChargeTracker {
	cfg := TrackerConfig{
		PollIntervalOnline:   time.Millisecond,
		PollIntervalAsleep:   time.Millisecond,
		PollIntervalCharging: time.Millisecond,
	}
	return NewChargeTracker(cfg, zap.NewNop(), nil, store, 1, initial)
}

func TestTrackerBuildsChargeCycle(t *testing.T) {
	store := &memAppender{}
	tr := newTestTracker(store, state.StateOnline)

	start := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	tr.Observe(vehicleData("Stopped", 40, 100, 0, 0, 0), start.Add(-time.Minute))
	assert.Equal(t, state.StateOnline, tr.CurrentState())

	tr.Observe(vehicleData("Charging", 40, 100, 238, 30, 0.1), start)
	assert.Equal(t, state.StateCharging, tr.CurrentState())
	tr.Observe(vehicleData("Charging", 60, 150, 242, 32, 15), start.Add(time.Hour))
	tr.Observe(vehicleData("Charging", 79, 198, 240, 28, 30), start.Add(2*time.Hour))
	assert.Empty(t, store.all())

	end := start.Add(2*time.Hour + 10*time.Minute)
	tr.Observe(vehicleData("Complete", 80, 200, 0, 0, 31.5), end)
	assert.Equal(t, state.StateOnline, tr.CurrentState())

	cycles := store.all()
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, start.UnixMilli(), c.StartTime)
	assert.Equal(t, end.UnixMilli(), c.EndTime)
	assert.False(t, c.SuperCharger)
	assert.Equal(t, 1, c.Phases)
	assert.Equal(t, 100.0, c.StartRange)
	assert.Equal(t, 200.0, c.EndRange)
	assert.Equal(t, 40.0, c.StartSOC)
	assert.Equal(t, 80.0, c.EndSOC)
	assert.Equal(t, 37.4925, c.Latitude)
	assert.Equal(t, -121.9446, c.Longitude)
	assert.Equal(t, 21034.7, c.Odometer)
	assert.Equal(t, 242.0, c.PeakVoltage)
	assert.Equal(t, 240.0, c.AvgVoltage)
	assert.Equal(t, 32.0, c.PeakCurrent)
	assert.Equal(t, 30.0, c.AvgCurrent)
	assert.Equal(t, 31.5, c.EnergyAdded)
}

func TestTrackerDetectsSupercharger(t *testing.T) {
	store := &memAppender{}
	tr := newTestTracker(store, state.StateOnline)

	d := vehicleData("Charging", 10, 30, 390, 300, 1)
	d.ChargeState.FastChargerPresent = true
	d.ChargeState.FastChargerType = "Supercharger"
	d.ChargeState.ChargerPhases = nil

	now := time.Now()
	tr.Observe(d, now)
	tr.Observe(vehicleData("Complete", 80, 200, 0, 0, 50), now.Add(40*time.Minute))

	cycles := store.all()
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].SuperCharger)
	assert.Equal(t, 0, cycles[0].Phases)
}

func TestTrackerFinishesWhenVehicleSleeps(t *testing.T) {
	store := &memAppender{}
	tr := newTestTracker(store, state.StateAsleep)

	now := time.Now()
	tr.Observe(vehicleData("Charging", 50, 120, 240, 16, 2), now)
	assert.Equal(t, state.StateCharging, tr.CurrentState())

	tr.Observe(&tesla.VehicleData{State: "asleep"}, now.Add(3*time.Hour))
	assert.Equal(t, state.StateAsleep, tr.CurrentState())

	cycles := store.all()
	require.Len(t, cycles, 1)
	assert.Equal(t, 2.0, cycles[0].EnergyAdded)
	assert.Equal(t, now.Add(3*time.Hour).UnixMilli(), cycles[0].EndTime)
}

func TestTrackerIgnoresIdleVehicle(t *testing.T) {
	store := &memAppender{}
	tr := newTestTracker(store, state.StateOffline)

	tr.Observe(vehicleData("Disconnected", 70, 180, 0, 0, 0), time.Now())
	assert.Equal(t, state.StateOnline, tr.CurrentState())
	tr.Observe(&tesla.VehicleData{State: "offline"}, time.Now())
	assert.Equal(t, state.StateOffline, tr.CurrentState())
	assert.Empty(t, store.all())
}

type scriptedSource struct {
	mu    sync.Mutex
	steps []*tesla.VehicleData
	errs  []error
}

func (s *scriptedSource) GetVehicleData(context.Context, int64) (*tesla.VehicleData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return &tesla.VehicleData{State: "asleep"}, nil
	}
	data, err := s.steps[0], s.errs[0]
	s.steps, s.errs = s.steps[1:], s.errs[1:]
	return data, err
}

func TestTrackerPollLoop(t *testing.T) {
	src := &scriptedSource{
		steps: []*tesla.VehicleData{
			vehicleData("Charging", 20, 50, 240, 32, 1),
			nil,
			vehicleData("Charging", 60, 150, 240, 32, 20),
			vehicleData("Complete", 61, 152, 0, 0, 21),
		},
		errs: []error{nil, tesla.ErrRateLimited, nil, nil},
	}
	store := &memAppender{}
	tr := newTestTracker(store, state.StateOnline)
	tr.source = src

	tr.Start(context.Background())
	require.Eventually(t, func() bool { return len(store.all()) == 1 }, time.Second, time.Millisecond)
	tr.Stop()
	tr.Stop()

	c := store.all()[0]
	assert.Equal(t, 21.0, c.EnergyAdded)
	assert.Equal(t, 20.0, c.StartSOC)
}

func TestTrackerKeepsSessionAcrossTransientUnavailable(t *testing.T) {
	src := &scriptedSource{
		steps: []*tesla.VehicleData{
			vehicleData("Charging", 20, 50, 240, 32, 1),
			nil,
			vehicleData("Charging", 40, 100, 240, 32, 10),
			vehicleData("Complete", 41, 102, 0, 0, 11),
		},
		errs: []error{nil, tesla.ErrVehicleUnavailable, nil, nil},
	}
	store := &memAppender{}
	tr := newTestTracker(store, state.StateOnline)
	tr.source = src

	ctx := context.Background()
	tr.poll(ctx)
	tr.poll(ctx)
	assert.Equal(t, state.StateCharging, tr.CurrentState())
	assert.Empty(t, store.all())
	tr.poll(ctx)
	tr.poll(ctx)

	cycles := store.all()
	require.Len(t, cycles, 1)
	assert.Equal(t, 20.0, cycles[0].StartSOC)
	assert.Equal(t, 41.0, cycles[0].EndSOC)
	assert.Equal(t, 11.0, cycles[0].EnergyAdded)
}

func TestTrackerFinishesAfterRepeatedUnavailable(t *testing.T) {
	src := &scriptedSource{
		steps: []*tesla.VehicleData{vehicleData("Charging", 20, 50, 240, 32, 1)},
		errs:  []error{nil},
	}
	for i := 0; i < maxUnavailablePolls; i++ {
		src.steps = append(src.steps, nil)
		src.errs = append(src.errs, tesla.ErrVehicleUnavailable)
	}
	store := &memAppender{}
	tr := newTestTracker(store, state.StateOnline)
	tr.source = src

	ctx := context.Background()
	for i := 0; i < maxUnavailablePolls; i++ {
		tr.poll(ctx)
		assert.Empty(t, store.all())
	}
	tr.poll(ctx)

	assert.Len(t, store.all(), 1)
	assert.Equal(t, state.StateAsleep, tr.CurrentState())
}
