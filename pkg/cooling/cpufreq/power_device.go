/*
Copyright 2022 The Katalyst Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cpufreq

import (
	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-cooling/pkg/cooling/metric"
)

// powerCoolingDevice extends a cooling device with the power model of its domain.
type powerCoolingDevice struct {
	*cpufreqCoolingDevice

	opps   OperatingPointProvider
	online CPUOnlineChecker
	// loads is guarded by the embedded device mutex
	loads       *LoadTracker
	staticTable *StaticPowerTable
}

var _ PowerActor = &powerCoolingDevice{}

func (d *powerCoolingDevice) RequestedPower(tz ThermalZone) (uint32, error) {
	freq := d.actuator.CurrentFrequency(d.policy.CPU)
	if freq == 0 {
		return 0, nil
	}

	d.mutex.Lock()
	loads, total := d.loads.SampleAll()
	d.lastLoad = total
	d.mutex.Unlock()

	dynamic := d.table.DynamicPower(freq, total)
	static, err := d.staticPower(tz, freq)
	if err != nil {
		metric.EmitErrorCode(d.emitter, metric.ErrorCodeStaticPowerFailure)
		return 0, err
	}

	d.logger.InfofV(4, "freq %d KHz, load %d, static %d mW, dynamic %d mW", freq, total, static, dynamic)
	metric.EmitRequestedPower(d.emitter, d.policy.RelatedCPUs, loads, static, dynamic)
	return static + dynamic, nil
}

func (d *powerCoolingDevice) PowerToLevel(tz ThermalZone, power uint32) (int, error) {
	online := d.onlineCPUs()
	if online == 0 {
		return InvalidLevel, errors.Wrapf(ErrNotAvailable, "no online cpu in %v", d.policy.RelatedCPUs)
	}

	freq := d.actuator.CurrentFrequency(d.policy.CPU)
	static, err := d.staticPower(tz, freq)
	if err != nil {
		return InvalidLevel, err
	}

	var dynamic uint32
	if power > static {
		dynamic = power - static
	}
	normalised := dynamic / uint32(online)
	target := d.table.FrequencyForPower(normalised)

	// the registry only tells whether the domain is still registered, the
	// level always comes from this device's own table
	if d.registry.LevelForCPU(d.policy.CPU, target) == InvalidLevel {
		return InvalidLevel, errors.Wrapf(ErrRange, "no cooling level for %d KHz", target)
	}
	level := d.table.LevelForFrequency(target)

	d.logger.InfofV(4, "power limit %d mW, static %d mW, online %d, target %d KHz, level %d",
		power, static, online, target, level)
	metric.EmitPowerLimit(d.emitter, power, target)
	return level, nil
}

func (d *powerCoolingDevice) LevelToPower(tz ThermalZone, level int) (uint32, error) {
	if level < 0 || level > d.table.MaxLevel() {
		return 0, errors.Wrapf(ErrRange, "level %d out of range [0, %d]", level, d.table.MaxLevel())
	}

	freq := d.table[level].Frequency
	dynamic := d.table.PowerForFrequency(freq) * uint32(d.onlineCPUs())
	static, err := d.staticPower(tz, freq)
	if err != nil {
		return 0, err
	}
	return static + dynamic, nil
}

func (d *powerCoolingDevice) Snapshot() Snapshot {
	snapshot := d.cpufreqCoolingDevice.Snapshot()
	snapshot.PowerAware = true
	snapshot.Powers = make([]uint32, 0, len(d.table))
	for _, step := range d.table {
		snapshot.Powers = append(snapshot.Powers, step.Power)
	}
	return snapshot
}

// staticPower returns the leakage of the domain at freq kHz in the zone's
// current temperature. The voltage comes from the operating point matching freq exactly.
func (d *powerCoolingDevice) staticPower(tz ThermalZone, freq uint32) (uint32, error) {
	if d.staticTable == nil || freq == 0 {
		return 0, nil
	}

	freqHz := uint64(freq) * 1000
	opp, err := d.opps.FindOperatingPointAtOrAbove(d.policy.CPU, freqHz)
	if err != nil || opp.FrequencyHz != freqHz {
		return 0, errors.Wrapf(ErrLookup, "failed to find OPP for frequency %d Hz", freqHz)
	}
	if opp.MicroVolt == 0 {
		return 0, errors.Wrapf(ErrLookup, "failed to get voltage for frequency %d Hz", freqHz)
	}

	temperature := 0
	if tz != nil {
		temperature = tz.Temperature()
	}
	return d.staticTable.Lookup(opp.MicroVolt, temperature), nil
}

func (d *powerCoolingDevice) onlineCPUs() int {
	count := 0
	for _, cpu := range d.policy.RelatedCPUs {
		if d.online == nil || d.online.IsOnline(cpu) {
			count++
		}
	}
	return count
}
