// Package correlate estimates the true time of a message from its device
// timestamp and the reference clock sample embedded when it was written.
package correlate

import (
	"time"

	"github.com/tinytelemetry/tracevault/internal/model"
)

// Correction is applied to the device-to-reference offset before it is
// added back to the device time. It is zero until drift correction is
// calibrated, which makes the estimate equal the reference sample.
var Correction time.Duration

// Estimate returns the estimated time of m.
//
// With both clocks the estimate is D + ((R - D) + Correction). With one
// clock it is that clock's reading, and with neither it is unavailable.
func Estimate(m model.Message) model.Estimate {
	device := m.DeviceTime
	hasDevice := !device.IsZero()
	hasRef := m.ReferenceTime != nil && !m.ReferenceTime.IsZero()

	switch {
	case hasDevice && hasRef:
		offset := m.ReferenceTime.Sub(device) + Correction
		return model.Estimate{Time: device.Add(offset), Available: true}
	case hasRef:
		return model.Estimate{Time: *m.ReferenceTime, Available: true}
	case hasDevice:
		return model.Estimate{Time: device, Available: true}
	default:
		return model.Estimate{}
	}
}

// Offset returns R - D for a message carrying both clocks.
func Offset(m model.Message) (time.Duration, bool) {
	if m.ReferenceTime == nil || m.DeviceTime.IsZero() {
		return 0, false
	}
	return m.ReferenceTime.Sub(m.DeviceTime), true
}
