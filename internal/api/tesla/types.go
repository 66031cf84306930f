package tesla

import (
	"strings"
)

// Vehicle 车辆基础信息
type Vehicle struct {
	ID          int64  `json:"id"`
	VehicleID   int64  `json:"vehicle_id"`
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"` // online, asleep, offline
	OptionCodes string `json:"option_codes,omitempty"`
}

// BatteryType 从选装代码中解析电池类型（BT 开头，如 BT85、BTX5）
func (v *Vehicle) BatteryType() string {
	for _, code := range strings.Split(v.OptionCodes, ",") {
		code = strings.TrimSpace(code)
		if len(code) > 2 && strings.HasPrefix(code, "BT") {
			return code
		}
	}
	return "Unknown"
}

// VehicleData 车辆完整数据
type VehicleData struct {
	ID           int64         `json:"id"`
	VehicleID    int64         `json:"vehicle_id"`
	VIN          string        `json:"vin"`
	State        string        `json:"state"`
	ChargeState  *ChargeState  `json:"charge_state,omitempty"`
	DriveState   *DriveState   `json:"drive_state,omitempty"`
	VehicleState *VehicleState `json:"vehicle_state,omitempty"`
}

// ChargeState 充电状态
type ChargeState struct {
	BatteryLevel         int     `json:"battery_level"`
	UsableBatteryLevel   int     `json:"usable_battery_level"`
	BatteryRange         float64 `json:"battery_range"`     // 英里
	EstBatteryRange      float64 `json:"est_battery_range"` // 英里
	ChargingState        string  `json:"charging_state"`    // Disconnected, Stopped, Charging, Complete
	ChargerPower         int     `json:"charger_power"`     // kW
	ChargerVoltage       int     `json:"charger_voltage"`
	ChargerActualCurrent int     `json:"charger_actual_current"`
	ChargerPhases        *int    `json:"charger_phases,omitempty"`
	FastChargerPresent   bool    `json:"fast_charger_present"`
	FastChargerType      string  `json:"fast_charger_type,omitempty"` // Supercharger, CHAdeMO, ...
	ChargeEnergyAdded    float64 `json:"charge_energy_added"`         // kWh
	Timestamp            int64   `json:"timestamp"`
}

// IsSupercharger 是否在超充站充电
func (c *ChargeState) IsSupercharger() bool {
	return c.FastChargerPresent && strings.EqualFold(c.FastChargerType, "Supercharger")
}

// DriveState 驾驶状态
type DriveState struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   int     `json:"heading"`
	GpsAsOf   int64   `json:"gps_as_of"`
	Timestamp int64   `json:"timestamp"`
}

// VehicleState 车辆状态
type VehicleState struct {
	Odometer    float64 `json:"odometer"` // 英里
	VehicleName string  `json:"vehicle_name"`
	Timestamp   int64   `json:"timestamp"`
}
