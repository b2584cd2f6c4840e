// Copyright 2024 The SMA Inverter Exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus gauges the exporter publishes
// and the setter helpers that respect "absent" decoded samples (spec
// §6): a sample with Present == false simply skips the Set call, so the
// series stays at whatever value (or absence) it last had rather than
// being overwritten with a fabricated zero.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smainverter/sma-inverter-exporter/measure"
)

var (
	// BatteryVoltage is the per-line battery voltage, in millivolts. Per
	// spec §6 this carries only the "line" label, one global series per
	// line across all discovered devices — not per inverter.
	BatteryVoltage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_battery_voltage_millivolts",
			Help: "Battery voltage reported by the inverter, in millivolts.",
		}, []string{"line"})

	// BatteryCurrent is the per-line battery current, in milliamperes.
	BatteryCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_battery_current_milliamperes",
			Help: "Battery current reported by the inverter, in milliamperes.",
		}, []string{"line"})

	// BatteryTemperature is the per-line battery temperature, in degrees
	// Celsius.
	BatteryTemperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_battery_temperature_degreescelsius",
			Help: "Battery temperature reported by the inverter, in degrees Celsius.",
		}, []string{"line"})

	// BatteryChargePercent is the per-line state of charge, in percent.
	BatteryChargePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_battery_charge_percentage",
			Help: "Battery state of charge reported by the inverter, in percent.",
		}, []string{"line"})

	// SpotDCVoltage is the per-string DC spot voltage, in millivolts.
	SpotDCVoltage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_spot_dc_voltage_millivolts",
			Help: "DC voltage reported by the inverter for a PV string, in millivolts.",
		}, []string{"line"})

	// SpotDCCurrent is the per-string DC spot current, in milliamperes.
	SpotDCCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_spot_dc_current_milliamperes",
			Help: "DC current reported by the inverter for a PV string, in milliamperes.",
		}, []string{"line"})

	// MeteringTotal is the lifetime energy production total, in
	// watt-hours. Unlike the six gauges above, this is keyed by
	// inverter, per spec §6.
	MeteringTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_metering_total_watthours",
			Help: "Lifetime energy production total reported by the inverter, in watt-hours.",
		}, []string{"inverter"})

	// MeteringDaily is the current day's energy production, in
	// watt-hours.
	MeteringDaily = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smainverter_metering_daily_watthours",
			Help: "Today's energy production reported by the inverter, in watt-hours.",
		}, []string{"inverter"})

	// PollErrors counts failed poll attempts by inverter and reason, so
	// operators can tell a quiet series apart from a dead one. This is
	// an operational metric, not part of the spec §6 exposition
	// contract, so it carries the inverter label the contract metrics
	// deliberately don't.
	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smainverter_poll_errors_total",
			Help: "Number of poll commands that did not produce a usable reply, by reason.",
		}, []string{"inverter", "reason"})
)

func setLine(vec *prometheus.GaugeVec, line string, s measure.Sample) {
	if !s.Present {
		return
	}
	vec.WithLabelValues(line).Set(s.Value)
}

func setTotal(vec *prometheus.GaugeVec, inverter string, s measure.Sample) {
	if !s.Present {
		return
	}
	vec.WithLabelValues(inverter).Set(s.Value)
}

// SetBatteryInfo publishes one poll reply's decoded battery block. It
// takes no inverter argument: the battery gauges are global per spec §6,
// and only PollErrors on the caller's side carries the inverter label.
func SetBatteryInfo(samples map[int]map[string]measure.Sample) {
	for ch, fields := range samples {
		line := lineLabel(ch)
		setLine(BatteryVoltage, line, fields["voltage"])
		setLine(BatteryCurrent, line, fields["current"])
		setLine(BatteryTemperature, line, fields["temperature"])
	}
}

// SetDCVoltage publishes one poll reply's decoded DC spot block. Lines
// are labeled by string number (1, 2), not by letter, per spec §6.
func SetDCVoltage(samples map[int]map[string]measure.Sample) {
	for ch, fields := range samples {
		line := stringLabel(ch)
		setLine(SpotDCVoltage, line, fields["voltage"])
		setLine(SpotDCCurrent, line, fields["current"])
	}
}

// SetBatteryChargeStatus publishes one poll reply's decoded
// state-of-charge block.
func SetBatteryChargeStatus(samples map[int]map[string]measure.Sample) {
	for ch, fields := range samples {
		setLine(BatteryChargePercent, lineLabel(ch), fields["soc"])
	}
}

// SetEnergyProduction publishes one poll reply's decoded metering
// totals, labeled by the originating inverter's address per spec §6.
func SetEnergyProduction(inverter string, samples map[int]map[string]measure.Sample) {
	fields := samples[0]
	setTotal(MeteringTotal, inverter, fields["total"])
	setTotal(MeteringDaily, inverter, fields["daily"])
}

// lineLabel names a battery channel index the way spec §6 labels it:
// "A", "B", "C".
func lineLabel(channel int) string {
	if channel < 0 || channel > 25 {
		return "?"
	}
	return string(rune('A' + channel))
}

// stringLabel names a DC string channel index the way spec §6 labels
// it: "1", "2", one-based.
func stringLabel(channel int) string {
	return fmt.Sprintf("%d", channel+1)
}
