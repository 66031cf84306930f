package models

// Car 车辆信息
type Car struct {
	TeslaID     int64  `json:"tesla_id"`
	VIN         string `json:"vin"`
	Name        string `json:"name"`
	BatteryType string `json:"battery_type"` // 由选装代码解析，如 BT85
	UUID        string `json:"uuid"`         // 本地生成的匿名车辆标识
}
