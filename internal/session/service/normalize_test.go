package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

func TestNormalizeSampled(t *testing.T) {
	tests := []struct {
		name      string
		in        ocpp.SampledValue
		scale     int
		wantValue string
		wantUnit  ocpp.UnitOfMeasure
	}{
		{"kWh to Wh", ocpp.SampledValue{Value: "100", Unit: ocpp.UnitKWh}, 1, "100000", ocpp.UnitWh},
		{"fractional kWh", ocpp.SampledValue{Value: "1.5", Unit: ocpp.UnitKWh}, 1, "1500", ocpp.UnitWh},
		{"kW to W", ocpp.SampledValue{Value: "7.4", Unit: ocpp.UnitKW}, 1, "7400", ocpp.UnitW},
		{"kvarh to varh", ocpp.SampledValue{Value: "2", Unit: ocpp.UnitKvarh}, 1, "2000", ocpp.UnitVarh},
		{"freezing point", ocpp.SampledValue{Value: "32", Unit: ocpp.UnitFahrenheit}, 1, "0.0", ocpp.UnitCelsius},
		{"fahrenheit rounds half up", ocpp.SampledValue{Value: "99.5", Unit: ocpp.UnitFahrenheit}, 1, "37.5", ocpp.UnitCelsius},
		{"kelvin", ocpp.SampledValue{Value: "273.15", Unit: ocpp.UnitKelvin}, 1, "0.0", ocpp.UnitCelsius},
		{"celsius rescaled", ocpp.SampledValue{Value: "21.25", Unit: ocpp.UnitCelsius}, 1, "21.3", ocpp.UnitCelsius},
		{"celsius scale zero", ocpp.SampledValue{Value: "21.5", Unit: ocpp.UnitCelsius}, 0, "22", ocpp.UnitCelsius},
		{"negative tie away from zero", ocpp.SampledValue{Value: "-3.35", Unit: ocpp.UnitCelsius}, 1, "-3.4", ocpp.UnitCelsius},
		{"wh untouched", ocpp.SampledValue{Value: "1234", Unit: ocpp.UnitWh}, 1, "1234", ocpp.UnitWh},
		{"unparseable kept verbatim", ocpp.SampledValue{Value: "n/a", Unit: ocpp.UnitKWh}, 1, "n/a", ocpp.UnitKWh},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeSampled(tc.in, tc.scale)
			assert.Equal(t, tc.wantValue, got.Value)
			assert.Equal(t, tc.wantUnit, got.Unit)
		})
	}
}

func TestEnergyWh(t *testing.T) {
	wh, ok := energyWh("1500")
	assert.True(t, ok)
	assert.EqualValues(t, 1500, wh)

	wh, ok = energyWh("1500.6")
	assert.True(t, ok)
	assert.EqualValues(t, 1501, wh)

	_, ok = energyWh("bogus")
	assert.False(t, ok)
}
