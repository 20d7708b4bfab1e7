package alerts

import (
	"fmt"

	"telemon/internal/models"
)

// Thresholds are the acceptable bounds for each monitored dimension.
type Thresholds struct {
	MinTemperature       float64
	MaxTemperature       float64
	CriticalBatteryLevel float64
	MinSignalStrength    float64
}

// Verdict is the classification of one telemetry dimension of a reading.
// Severity and Message are only set for violations.
type Verdict struct {
	Category models.Category
	InRange  bool
	Severity models.Severity
	Message  string
}

// Classify checks every dimension present in the reading against th.
// Dimensions the reading does not carry produce no verdict. Verdicts are
// ordered temperature, battery, signal, status.
//
// The status dimension is judged on the effective status: a battery
// violation forces LOW_POWER, which counts as a normal status.
func Classify(r *models.Reading, th Thresholds) []Verdict {
	verdicts := make([]Verdict, 0, 4)
	status := r.Status

	if r.Temperature != nil {
		t := *r.Temperature
		v := Verdict{Category: models.CategoryTemperature, InRange: true}
		if t < th.MinTemperature || t > th.MaxTemperature {
			v.InRange = false
			v.Severity = models.SeverityWarning
			if t > th.MaxTemperature {
				v.Severity = models.SeverityCritical
			}
			v.Message = fmt.Sprintf("Temperature alert for device %s: %.2f (outside range [%.2f, %.2f])",
				r.DeviceID, t, th.MinTemperature, th.MaxTemperature)
		}
		verdicts = append(verdicts, v)
	}

	if r.BatteryLevel != nil {
		b := *r.BatteryLevel
		v := Verdict{Category: models.CategoryBattery, InRange: true}
		if b < th.CriticalBatteryLevel {
			v.InRange = false
			v.Severity = models.SeverityCritical
			v.Message = fmt.Sprintf("Battery alert for device %s: %.2f (below critical level %.2f)",
				r.DeviceID, b, th.CriticalBatteryLevel)
			status = models.StatusLowPower
		}
		verdicts = append(verdicts, v)
	}

	if r.SignalStrength != nil {
		s := *r.SignalStrength
		v := Verdict{Category: models.CategorySignal, InRange: true}
		if s < th.MinSignalStrength {
			v.InRange = false
			v.Severity = models.SeverityWarning
			v.Message = fmt.Sprintf("Signal alert for device %s: %.2f (below minimum %.2f)",
				r.DeviceID, s, th.MinSignalStrength)
		}
		verdicts = append(verdicts, v)
	}

	if status != "" {
		v := Verdict{Category: models.CategoryStatus, InRange: true}
		if status == models.StatusError || status == models.StatusOffline {
			v.InRange = false
			v.Severity = models.SeverityWarning
			v.Message = fmt.Sprintf("Status alert for device %s: %s", r.DeviceID, status)
		}
		verdicts = append(verdicts, v)
	}

	return verdicts
}
