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
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-cooling/pkg/cooling/metric"
	"github.com/kubewharf/katalyst-cooling/pkg/metrics"
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

const deviceNamePrefix = "thermal-cpufreq-"

// CoolingDevice throttles one cpufreq domain through discrete cooling levels.
type CoolingDevice interface {
	ID() int
	Name() string
	Policy() Policy
	MaxLevel() int
	GetLevel() int
	// SetLevel applies a cooling level, 0 is unthrottled.
	SetLevel(level int) error
	// CoolingLevel returns the level matching a frequency in kHz, or InvalidLevel.
	CoolingLevel(freq uint32) int
	// SetTemperature updates the registry wide temperature state from a zone reading.
	SetTemperature(suspended bool, milliCelsius int)
	Snapshot() Snapshot
}

// PowerActor is a CoolingDevice that also converts between levels and power
// for power allocating governors.
type PowerActor interface {
	CoolingDevice
	// RequestedPower returns the power in mW the domain currently draws.
	RequestedPower(tz ThermalZone) (uint32, error)
	// PowerToLevel returns the level that keeps the domain within power mW.
	PowerToLevel(tz ThermalZone, power uint32) (int, error)
	// LevelToPower returns the maximum power in mW the domain draws at level.
	LevelToPower(tz ThermalZone, level int) (uint32, error)
}

// Snapshot is a consistent view of a cooling device.
type Snapshot struct {
	ID               int      `json:"id"`
	Name             string   `json:"name"`
	PolicyCPU        int      `json:"policyCPU"`
	RelatedCPUs      []int    `json:"relatedCPUs"`
	Level            int      `json:"level"`
	MaxLevel         int      `json:"maxLevel"`
	ClippedFrequency uint32   `json:"clippedFrequency"`
	LastLoad         uint32   `json:"lastLoad"`
	PowerAware       bool     `json:"powerAware"`
	Frequencies      []uint32 `json:"frequencies"`
	Powers           []uint32 `json:"powers,omitempty"`
}

type cpufreqCoolingDevice struct {
	id       int
	name     string
	policy   Policy
	table    FrequencyTable
	registry *Registry
	actuator PolicyActuator
	emitter  metrics.MetricEmitter
	logger   general.Logger

	// mutex guards the fields below; level and clippedFrequency always
	// change together.
	mutex            sync.RWMutex
	level            int
	clippedFrequency uint32
	lastLoad         uint32
}

var _ CoolingDevice = &cpufreqCoolingDevice{}

func newCpufreqCoolingDevice(id int, policy Policy, table FrequencyTable, registry *Registry) *cpufreqCoolingDevice {
	name := fmt.Sprintf("%s%d", deviceNamePrefix, id)
	return &cpufreqCoolingDevice{
		id:               id,
		name:             name,
		policy:           policy,
		table:            table,
		registry:         registry,
		actuator:         registry.deps.Actuator,
		emitter:          registry.emitter.WithTags("cooling", metric.DeviceTags(name, policy.CPU)...),
		logger:           general.LoggerWithPrefix(name, general.LoggingPKGNone),
		clippedFrequency: table[0].Frequency,
	}
}

func (d *cpufreqCoolingDevice) ID() int {
	return d.id
}

func (d *cpufreqCoolingDevice) Name() string {
	return d.name
}

func (d *cpufreqCoolingDevice) Policy() Policy {
	return Policy{
		CPU:            d.policy.CPU,
		RelatedCPUs:    append([]int(nil), d.policy.RelatedCPUs...),
		FrequencyTable: d.table.Frequencies(),
	}
}

func (d *cpufreqCoolingDevice) MaxLevel() int {
	return d.table.MaxLevel()
}

func (d *cpufreqCoolingDevice) GetLevel() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.level
}

// ClippedFrequency returns the ceiling in kHz the current level imposes.
func (d *cpufreqCoolingDevice) ClippedFrequency() uint32 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.clippedFrequency
}

func (d *cpufreqCoolingDevice) SetLevel(level int) error {
	if level < 0 || level > d.table.MaxLevel() {
		return errors.Wrapf(ErrRange, "level %d out of range [0, %d]", level, d.table.MaxLevel())
	}

	d.mutex.Lock()
	if d.level == level {
		d.mutex.Unlock()
		return nil
	}
	prev := d.level
	d.level = level
	d.clippedFrequency = d.table[level].Frequency
	clipped := d.clippedFrequency
	d.mutex.Unlock()

	d.logger.Infof("level %d -> %d, clipped frequency %d KHz", prev, level, clipped)
	metric.EmitCoolingLevel(d.emitter, level, clipped)

	// the policy evaluation calls back into the registry through the policy notifier
	if err := d.actuator.UpdatePolicy(d.policy.CPU); err != nil {
		metric.EmitErrorCode(d.emitter, metric.ErrorCodeSetLevelFailure)
		return errors.Wrapf(err, "failed to update policy of cpu %d", d.policy.CPU)
	}
	return nil
}

func (d *cpufreqCoolingDevice) CoolingLevel(freq uint32) int {
	level := d.registry.LevelForCPU(d.policy.CPU, freq)
	if level == InvalidLevel && freq > d.table[0].Frequency {
		return 0
	}
	return level
}

func (d *cpufreqCoolingDevice) SetTemperature(suspended bool, milliCelsius int) {
	d.registry.setTemperature(suspended, milliCelsius)
}

func (d *cpufreqCoolingDevice) Snapshot() Snapshot {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return Snapshot{
		ID:               d.id,
		Name:             d.name,
		PolicyCPU:        d.policy.CPU,
		RelatedCPUs:      append([]int(nil), d.policy.RelatedCPUs...),
		Level:            d.level,
		MaxLevel:         d.table.MaxLevel(),
		ClippedFrequency: d.clippedFrequency,
		LastLoad:         d.lastLoad,
		Frequencies:      d.table.Frequencies(),
	}
}

func (d *cpufreqCoolingDevice) hasCPU(cpu int) bool {
	for _, c := range d.policy.RelatedCPUs {
		if c == cpu {
			return true
		}
	}
	return false
}
