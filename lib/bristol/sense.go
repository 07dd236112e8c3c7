package bristol

import (
	"strings"

	"github.com/faradaylab/faraday"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// ErrCalibrationMethod is returned when a calibration parameter is set for a
// method that is not active.
var ErrCalibrationMethod = errors.New("calibration method incorrect")

func onOff(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	}
	return false, errors.Errorf("bristol: not a boolean %q", s)
}

func (w *Wavemeter) queryOnOff(cmd string) (bool, error) {
	s, err := w.Query(cmd)
	if err != nil {
		return false, err
	}
	return onOff(s)
}

// SetAverageCount sets the number of readings averaged, 2 to 128.
func (w *Wavemeter) SetAverageCount(n int) error {
	if err := faraday.InRange("average count", n, 2, 128); err != nil {
		return err
	}
	return w.Command(":SENS:AVER:COUN %d", n)
}

// AverageCount returns the number of readings averaged.
func (w *Wavemeter) AverageCount() (int, error) {
	return query.Int(w, ":SENS:AVER:COUN?")
}

// AverageData returns q averaged over the last AverageCount measurements.
func (w *Wavemeter) AverageData(q Quantity) (float64, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	return query.Float64(w, ":SENS:AVER:DATA? "+string(q))
}

// SetAverageState turns averaging on or off.
func (w *Wavemeter) SetAverageState(on bool) error {
	return w.Command(":SENS:AVER:STAT %s", faraday.OnOff(on))
}

// AverageState reports whether averaging is on.
func (w *Wavemeter) AverageState() (bool, error) {
	return w.queryOnOff(":SENS:AVER:STAT?")
}

// Calibrate starts a calibration.
func (w *Wavemeter) Calibrate() error {
	return w.Command(":SENS:CALI")
}

// SetCalibrationMethod selects TIME or TEMP triggered calibration.
func (w *Wavemeter) SetCalibrationMethod(method string) error {
	if err := faraday.OneOf("calibration method", method, "TIME", "TEMP"); err != nil {
		return err
	}
	return w.Command(":SENS:CALI:METH %s", method)
}

// CalibrationMethod returns the calibration method.
func (w *Wavemeter) CalibrationMethod() (string, error) {
	return w.Query(":SENS:CALI:METH?")
}

func (w *Wavemeter) requireMethod(prefix string) error {
	m, err := w.CalibrationMethod()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.ToUpper(m), prefix) {
		return errors.Wrapf(ErrCalibrationMethod, "method is %s, need %s", m, prefix)
	}
	return nil
}

// SetCalibrationTemp sets the internal temperature change, in tenths of a
// degree, that triggers a calibration. Only valid with method TEMP.
func (w *Wavemeter) SetCalibrationTemp(tenths int) error {
	if err := faraday.InRange("calibration temperature", tenths, 1, 50); err != nil {
		return err
	}
	if err := w.requireMethod("TEMP"); err != nil {
		return err
	}
	return w.Command(":SENS:CALI:TEMP %d", tenths)
}

// CalibrationTemp returns the calibration temperature delta in tenths of a
// degree.
func (w *Wavemeter) CalibrationTemp() (int, error) {
	return query.Int(w, ":SENS:CALI:TEMP?")
}

// SetCalibrationTimer sets the minutes between calibrations. Only valid
// with method TIME.
func (w *Wavemeter) SetCalibrationTimer(minutes int) error {
	if err := faraday.InRange("calibration timer", minutes, 5, 1440); err != nil {
		return err
	}
	if err := w.requireMethod("TIME"); err != nil {
		return err
	}
	return w.Command(":SENS:CALI:TIM %d", minutes)
}

// CalibrationTimer returns the minutes between calibrations.
func (w *Wavemeter) CalibrationTimer() (int, error) {
	return query.Int(w, ":SENS:CALI:TIM?")
}

// SetDetector selects a CW or PULS(ed) source.
func (w *Wavemeter) SetDetector(fn string) error {
	if err := faraday.OneOf("detector function", fn, "CW", "PULS"); err != nil {
		return err
	}
	return w.Command(":SENS:DET:FUNC %s", fn)
}

// Detector returns the detector function.
func (w *Wavemeter) Detector() (string, error) {
	return w.Query(":SENS:DET:FUNC?")
}

// SetAutoExposure turns automatic exposure on or off.
func (w *Wavemeter) SetAutoExposure(on bool) error {
	return w.Command(":SENS:EXP:AUTO %s", faraday.OnOff(on))
}

// AutoExposure reports whether automatic exposure is on.
func (w *Wavemeter) AutoExposure() (bool, error) {
	return w.queryOnOff(":SENS:EXP:AUTO?")
}

// PIDError returns the last PID error in nm.
func (w *Wavemeter) PIDError() (float64, error) {
	return query.Float64(w, ":SENS:PID:ERR?")
}

// PIDFunction reports whether the instrument has the PID option.
func (w *Wavemeter) PIDFunction() (string, error) {
	return w.Query(":SENS:PID:FUNC?")
}

// PID loop constants.
const (
	Proportional = "PROP"
	Integral     = "INT"
	Derivative   = "DER"
)

// SetPID sets a PID loop constant, 0 to 50 in steps of 0.1.
func (w *Wavemeter) SetPID(kind string, v float64) error {
	if err := faraday.OneOf("PID constant", kind, Proportional, Integral, Derivative); err != nil {
		return err
	}
	if err := faraday.InSteps("PID "+kind, v, 0, 50, 0.1); err != nil {
		return err
	}
	return w.Command(":SENS:PID:LCON:%s %s", kind, formatFloat(v))
}

// PID returns a PID loop constant.
func (w *Wavemeter) PID(kind string) (float64, error) {
	if err := faraday.OneOf("PID constant", kind, Proportional, Integral, Derivative); err != nil {
		return 0, err
	}
	return query.Float64(w, ":SENS:PID:LCON:"+kind+"?")
}

// PIDOutput returns the last PID output voltage.
func (w *Wavemeter) PIDOutput() (float64, error) {
	return query.Float64(w, ":SENS:PID:OUT?")
}

// SetPIDSetpoint sets the PID target wavelength, 350 to 14000 nm.
func (w *Wavemeter) SetPIDSetpoint(nm float64) error {
	if err := faraday.InRange("PID setpoint", nm, 350, 14000); err != nil {
		return err
	}
	return w.Command(":SENS:PID:SPO %s", formatFloat(nm))
}

// PIDSetpoint returns the PID target wavelength in nm.
func (w *Wavemeter) PIDSetpoint() (float64, error) {
	return query.Float64(w, ":SENS:PID:SPO?")
}

// SetPIDState enables the PID calculation. When off the output sits at the
// default voltage.
func (w *Wavemeter) SetPIDState(on bool) error {
	return w.Command(":SENS:PID:STAT %s", faraday.OnOff(on))
}

// PIDState reports whether the PID calculation is enabled.
func (w *Wavemeter) PIDState() (bool, error) {
	return w.queryOnOff(":SENS:PID:STAT?")
}

func (w *Wavemeter) setPIDVoltage(name, sub string, v, lo, hi float64) error {
	if err := faraday.InSteps(name, v, lo, hi, 0.1); err != nil {
		return err
	}
	return w.Command(":SENS:PID:VOLT:%s %s", sub, formatFloat(v))
}

// SetPIDDefaultVoltage sets the output voltage used while PID is off,
// −5 to 5 V.
func (w *Wavemeter) SetPIDDefaultVoltage(v float64) error {
	return w.setPIDVoltage("PID default voltage", "DEF", v, -5, 5)
}

// PIDDefaultVoltage returns the output voltage used while PID is off.
func (w *Wavemeter) PIDDefaultVoltage() (float64, error) {
	return query.Float64(w, ":SENS:PID:VOLT:DEF?")
}

// SetPIDMaxVoltage sets the maximum PID output, 0.1 to 5 V.
func (w *Wavemeter) SetPIDMaxVoltage(v float64) error {
	return w.setPIDVoltage("PID max voltage", "MAX", v, 0.1, 5)
}

// PIDMaxVoltage returns the maximum PID output.
func (w *Wavemeter) PIDMaxVoltage() (float64, error) {
	return query.Float64(w, ":SENS:PID:VOLT:MAX?")
}

// SetPIDMinVoltage sets the minimum PID output, −5 to 0 V.
func (w *Wavemeter) SetPIDMinVoltage(v float64) error {
	return w.setPIDVoltage("PID min voltage", "MIN", v, -5, 0)
}

// PIDMinVoltage returns the minimum PID output.
func (w *Wavemeter) PIDMinVoltage() (float64, error) {
	return query.Float64(w, ":SENS:PID:VOLT:MIN?")
}

// SetPIDOffsetVoltage sets the PID centering voltage, −5 to 5 V.
func (w *Wavemeter) SetPIDOffsetVoltage(v float64) error {
	return w.setPIDVoltage("PID offset voltage", "OFFS", v, -5, 5)
}

// PIDOffsetVoltage returns the PID centering voltage.
func (w *Wavemeter) PIDOffsetVoltage() (float64, error) {
	return query.Float64(w, ":SENS:PID:VOLT:OFFS?")
}

// SetPIDScale sets the PID gain in V/nm, −500 to 500.
func (w *Wavemeter) SetPIDScale(v float64) error {
	return w.setPIDVoltage("PID scale", "SCAL", v, -500, 500)
}

// PIDScale returns the PID gain in V/nm.
func (w *Wavemeter) PIDScale() (float64, error) {
	return query.Float64(w, ":SENS:PID:VOLT:SCAL?")
}
