package service

import (
	"math"
	"strconv"

	"github.com/voltgrid/voltgrid/internal/ocpp"
)

// normalizeSampled converts k-prefixed units to their base unit and
// Fahrenheit/Kelvin to Celsius before a reading is stored. Temperatures are
// rounded half-up to tempScale decimals. Values that fail to parse are kept
// verbatim; garbage in, garbage stored, but never dropped.
func normalizeSampled(sv ocpp.SampledValue, tempScale int) ocpp.SampledValue {
	value, err := strconv.ParseFloat(sv.Value, 64)
	if err != nil {
		return sv
	}

	switch sv.Unit {
	case ocpp.UnitKWh:
		sv.Value = formatQuantity(value * 1000)
		sv.Unit = ocpp.UnitWh
	case ocpp.UnitKW:
		sv.Value = formatQuantity(value * 1000)
		sv.Unit = ocpp.UnitW
	case ocpp.UnitKvarh:
		sv.Value = formatQuantity(value * 1000)
		sv.Unit = ocpp.UnitVarh
	case ocpp.UnitKvar:
		sv.Value = formatQuantity(value * 1000)
		sv.Unit = ocpp.UnitVar
	case ocpp.UnitFahrenheit:
		sv.Value = formatTemperature((value-32)*5/9, tempScale)
		sv.Unit = ocpp.UnitCelsius
	case ocpp.UnitKelvin:
		sv.Value = formatTemperature(value-273.15, tempScale)
		sv.Unit = ocpp.UnitCelsius
	case ocpp.UnitCelsius:
		sv.Value = formatTemperature(value, tempScale)
	}
	return sv
}

func formatQuantity(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatTemperature(value float64, scale int) string {
	if scale < 0 {
		scale = 0
	}
	return strconv.FormatFloat(roundHalfUp(value, scale), 'f', scale, 64)
}

// roundHalfUp rounds away from zero on ties, the conventional rounding for
// displayed temperatures.
func roundHalfUp(value float64, scale int) float64 {
	pow := math.Pow(10, float64(scale))
	scaled := value * pow
	if scaled < 0 {
		return -math.Floor(-scaled+0.5) / pow
	}
	return math.Floor(scaled+0.5) / pow
}

// energyWh parses a stored energy value as integer watt-hours.
func energyWh(value string) (int64, bool) {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(parsed)), true
}
