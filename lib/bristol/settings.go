package bristol

import (
	"log"

	"github.com/pkg/errors"
)

// Settings is the run configuration of the wavelength meter.
type Settings struct {
	Addr              string `yaml:"addr"`
	Detector          string `yaml:"detector"`
	AutoExposure      bool   `yaml:"auto_exposure"`
	CalibrationMethod string `yaml:"calibration_method"`
	// CalibrationTemp is in tenths of a degree, used with method TEMP.
	CalibrationTemp int `yaml:"calibration_temp"`
	// CalibrationTimer is in minutes, used with method TIME.
	CalibrationTimer int    `yaml:"calibration_timer"`
	TriggerMethod    string `yaml:"trigger_method"`
	FrameRate        int    `yaml:"frame_rate"`
	Average          bool   `yaml:"average"`
	AverageCount     int    `yaml:"average_count"`
}

// DefaultSettings is a CW source with auto exposure, recalibrating every
// 0.5 °C, internally triggered at 100 Hz.
func DefaultSettings() Settings {
	return Settings{
		Addr:              DefaultAddr,
		Detector:          "CW",
		AutoExposure:      true,
		CalibrationMethod: "TEMP",
		CalibrationTemp:   5,
		TriggerMethod:     TriggerInternal,
		FrameRate:         100,
		AverageCount:      20,
	}
}

// Configure applies s, stopping at the first failure. The frame rate is only
// sent for internal triggering and the average count only when averaging.
func (w *Wavemeter) Configure(s Settings) error {
	steps := []struct {
		what string
		fn   func() error
	}{
		{"detector", func() error { return w.SetDetector(s.Detector) }},
		{"auto exposure", func() error { return w.SetAutoExposure(s.AutoExposure) }},
		{"calibration method", func() error { return w.SetCalibrationMethod(s.CalibrationMethod) }},
		{"calibration", func() error {
			if s.CalibrationMethod == "TIME" {
				return w.SetCalibrationTimer(s.CalibrationTimer)
			}
			return w.SetCalibrationTemp(s.CalibrationTemp)
		}},
		{"trigger method", func() error { return w.SetTriggerMethod(s.TriggerMethod) }},
		{"frame rate", func() error {
			if !IsInternal(s.TriggerMethod) {
				return nil
			}
			return w.SetFrameRate(s.FrameRate)
		}},
		{"average state", func() error { return w.SetAverageState(s.Average) }},
		{"average count", func() error {
			if !s.Average {
				return nil
			}
			return w.SetAverageCount(s.AverageCount)
		}},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			return errors.Wrapf(err, "bristol %s", st.what)
		}
	}
	log.Printf("bristol configured: detector %s, trigger %s", s.Detector, s.TriggerMethod)
	return nil
}
