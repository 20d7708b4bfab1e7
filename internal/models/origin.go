package models

import "strconv"

// OriginKind tells whether a reading was matched to a registered sensor.
type OriginKind uint8

const (
	// OriginDevice readings only carry the raw device identifier.
	OriginDevice OriginKind = iota
	// OriginSensor readings belong to a registered sensor.
	OriginSensor
)

// Origin identifies who produced a reading: either a resolved sensor or a raw
// device identifier. Suppression state exists only for sensor origins.
type Origin struct {
	Kind     OriginKind
	SensorID int64
	DeviceID string
}

// SensorOrigin builds the origin of a reading matched to a sensor.
func SensorOrigin(sensorID int64, deviceID string) Origin {
	return Origin{Kind: OriginSensor, SensorID: sensorID, DeviceID: deviceID}
}

// DeviceOrigin builds the origin of a reading with no registered sensor.
func DeviceOrigin(deviceID string) Origin {
	return Origin{Kind: OriginDevice, DeviceID: deviceID}
}

// Sensor returns the sensor ID and true for sensor origins.
func (o Origin) Sensor() (int64, bool) {
	return o.SensorID, o.Kind == OriginSensor
}

// String renders the origin for logs, e.g. "sensor:42" or "device:sat-7".
func (o Origin) String() string {
	if o.Kind == OriginSensor {
		return "sensor:" + strconv.FormatInt(o.SensorID, 10)
	}
	return "device:" + o.DeviceID
}
