package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeCycleJSONFieldNames(t *testing.T) {
	c := ChargeCycle{
		StartTime:    1414000000000,
		EndTime:      1414003600000,
		SuperCharger: true,
		Phases:       3,
		StartRange:   40.5,
		EndRange:     210.25,
		StartSOC:     18,
		EndSOC:       90,
		Latitude:     37.4925,
		Longitude:    -121.9446,
		Odometer:     12345.6,
		PeakVoltage:  398,
		AvgVoltage:   372.5,
		PeakCurrent:  310,
		AvgCurrent:   220.75,
		EnergyAdded:  54.3,
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, name := range []string{
		"startTime", "endTime", "superCharger", "phases", "startRange", "endRange",
		"startSOC", "endSOC", "lat", "lng", "odometer", "peakVoltage", "avgVoltage",
		"peakCurrent", "avgCurrent", "energyAdded",
	} {
		assert.Contains(t, fields, name)
	}
	assert.Len(t, fields, 16)

	var back ChargeCycle
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, back)
}

func TestPeriodContains(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	p := &Period{From: from, To: to}

	assert.True(t, p.Contains(from.UnixMilli()), "lower bound is included")
	assert.False(t, p.Contains(to.UnixMilli()), "upper bound is excluded")
	assert.True(t, p.Contains(to.UnixMilli()-1))
	assert.False(t, p.Contains(from.UnixMilli()-1))

	var none *Period
	assert.True(t, none.Contains(0))
	assert.True(t, none.IsEmpty())

	open := &Period{From: from}
	assert.True(t, open.Contains(to.Add(24*time.Hour).UnixMilli()))
	assert.False(t, open.Contains(from.Add(-time.Second).UnixMilli()))
}
