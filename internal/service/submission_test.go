package service

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/langchou/chargekeeper/internal/models"
)

type fakePrefs struct {
	submit     bool
	includeLoc bool
	dither     float64
}

func (p fakePrefs) SubmitAnonData() bool  { return p.submit }
func (p fakePrefs) IncludeLocData() bool  { return p.includeLoc }
func (p fakePrefs) DitherAmount() float64 { return p.dither }

type sentMessage struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMessage
	err  error
}

func (m *fakeMailer) Send(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func homeCharge() models.ChargeCycle {
	return models.ChargeCycle{
		StartTime:   1414000000000,
		EndTime:     1414010000000,
		Phases:      1,
		StartSOC:    30,
		EndSOC:      90,
		Latitude:    37.4925,
		Longitude:   -121.9446,
		EnergyAdded: 40.1,
	}
}

func TestDitherBoundedOffset(t *testing.T) {
	const eps = 1e-9
	for _, amount := range []float64{1, 2, 3, 4.5} {
		limit := 1 / math.Pow(10, amount)
		rng := rand.New(rand.NewPCG(42, uint64(amount*10)))
		for i := 0; i < 500; i++ {
			orig := homeCharge()
			got := Dither(orig, true, amount, rng)

			for _, d := range []float64{got.Latitude - orig.Latitude, got.Longitude - orig.Longitude} {
				assert.LessOrEqual(t, math.Abs(d), limit+eps)
				assert.GreaterOrEqual(t, math.Abs(d), limit/2-eps)
			}
			assert.Equal(t, orig.EnergyAdded, got.EnergyAdded)
		}
	}
}

func TestDitherUsesBothSigns(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var neg, pos int
	for i := 0; i < 200; i++ {
		got := Dither(homeCharge(), true, 2, rng)
		if got.Latitude < homeCharge().Latitude {
			neg++
		} else {
			pos++
		}
	}
	assert.Positive(t, neg)
	assert.Positive(t, pos)
}

func TestDitherIsDeterministicForSeed(t *testing.T) {
	a := Dither(homeCharge(), true, 3, rand.New(rand.NewPCG(7, 7)))
	b := Dither(homeCharge(), true, 3, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, a, b)
}

func TestDitherWithoutLocationZeroes(t *testing.T) {
	got := Dither(homeCharge(), false, 3, rand.New(rand.NewPCG(1, 1)))
	assert.Zero(t, got.Latitude)
	assert.Zero(t, got.Longitude)

	sc := homeCharge()
	sc.SuperCharger = true
	got = Dither(sc, false, 3, rand.New(rand.NewPCG(1, 1)))
	assert.Zero(t, got.Latitude)
	assert.Zero(t, got.Longitude)
}

func TestDitherLeavesSuperchargerAndZeroUntouched(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))

	sc := homeCharge()
	sc.SuperCharger = true
	assert.Equal(t, sc, Dither(sc, true, 3, rng))

	zero := homeCharge()
	zero.Latitude, zero.Longitude = 0, 0
	assert.Equal(t, zero, Dither(zero, true, 3, rng))

	// 只有一个坐标为零时仍然抖动
	half := homeCharge()
	half.Latitude = 0
	got := Dither(half, true, 3, rng)
	assert.NotZero(t, got.Latitude)
}

func TestSubmitDisabledIsNoop(t *testing.T) {
	m := &fakeMailer{}
	s := NewSubmitter(zap.NewNop(), fakePrefs{submit: false, includeLoc: true}, m, models.Car{}, rand.New(rand.NewPCG(1, 1)))
	s.Submit(homeCharge())
	assert.Empty(t, m.sent)
}

func TestSubmitSendsStructuredPayload(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := &fakeMailer{}
	car := models.Car{VIN: "5YJSA1E26FF000001", BatteryType: "BT85", UUID: "0b6c1f0e-2f3c-4f59-9a40-6f1f3c8f2a11"}
	s := NewSubmitter(zap.New(core), fakePrefs{submit: true, includeLoc: false}, m, car, rand.New(rand.NewPCG(1, 1)))

	orig := homeCharge()
	s.Submit(orig)

	require.Len(t, m.sent, 1)
	assert.Equal(t, DataAddress, m.sent[0].to)
	assert.Equal(t, ChargeDataSubject, m.sent[0].subject)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(m.sent[0].body), &fields))
	assert.Equal(t, "BT85", fields["battery"])
	assert.Equal(t, car.UUID, fields["uuid"])
	assert.Equal(t, 0.0, fields["lat"])
	assert.Equal(t, 0.0, fields["lng"])
	assert.Equal(t, 40.1, fields["energyAdded"])
	assert.Len(t, fields, 18)
	assert.NotContains(t, m.sent[0].body, car.VIN)

	assert.Equal(t, 1, logs.FilterMessage("Charge data submitted").Len())
	assert.Equal(t, 37.4925, orig.Latitude, "caller's record is not mutated")
}

func TestSubmitTransportFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := &fakeMailer{err: errors.New("queue full")}
	s := NewSubmitter(zap.New(core), fakePrefs{submit: true, includeLoc: true, dither: 3}, m, models.Car{}, rand.New(rand.NewPCG(1, 1)))

	s.Submit(homeCharge())
	assert.Equal(t, 1, logs.FilterMessage("Failed to submit charge data").Len())
	assert.Equal(t, 0, logs.FilterMessage("Charge data submitted").Len())
}
