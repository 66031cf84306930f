package models

import "time"

// ChargeCycle 一次完整的充电记录
// JSON 字段名与历史日志文件兼容，不可修改
type ChargeCycle struct {
	StartTime    int64   `json:"startTime"` // Unix 毫秒
	EndTime      int64   `json:"endTime"`   // Unix 毫秒
	SuperCharger bool    `json:"superCharger"`
	Phases       int     `json:"phases"`
	StartRange   float64 `json:"startRange"`
	EndRange     float64 `json:"endRange"`
	StartSOC     float64 `json:"startSOC"`
	EndSOC       float64 `json:"endSOC"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lng"`
	Odometer     float64 `json:"odometer"`
	PeakVoltage  float64 `json:"peakVoltage"`
	AvgVoltage   float64 `json:"avgVoltage"`
	PeakCurrent  float64 `json:"peakCurrent"`
	AvgCurrent   float64 `json:"avgCurrent"`
	EnergyAdded  float64 `json:"energyAdded"` // kWh
}

// StartedAt 充电开始时间
func (c ChargeCycle) StartedAt() time.Time {
	return time.UnixMilli(c.StartTime)
}

// EndedAt 充电结束时间
func (c ChargeCycle) EndedAt() time.Time {
	return time.UnixMilli(c.EndTime)
}

// Duration 充电时长
func (c ChargeCycle) Duration() time.Duration {
	return time.Duration(c.EndTime-c.StartTime) * time.Millisecond
}

// Period 按开始时间过滤的时间区间 [From, To)
// From 或 To 为零值时该侧不设边界
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains 判断毫秒时间戳是否落在区间内
func (p *Period) Contains(ms int64) bool {
	if p == nil {
		return true
	}
	t := time.UnixMilli(ms)
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}

// IsEmpty 两侧都无边界
func (p *Period) IsEmpty() bool {
	return p == nil || (p.From.IsZero() && p.To.IsZero())
}
