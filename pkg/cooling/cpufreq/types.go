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
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/notifier"
)

const (
	// InvalidFrequency marks unusable entries of a cpufreq frequency table.
	InvalidFrequency = ^uint32(0)
	// InvalidLevel is reported by level lookups that cannot be resolved.
	InvalidLevel = -1
)

// OperatingPoint is a (frequency, voltage) pair supported by the platform.
type OperatingPoint struct {
	FrequencyHz uint64
	MicroVolt   uint64
}

// OperatingPointProvider enumerates the operating points of a frequency domain,
// identified by its policy cpu.
type OperatingPointProvider interface {
	// ListOperatingPoints returns the operating points ordered by ascending frequency.
	ListOperatingPoints(domain int) ([]OperatingPoint, error)
	// FindOperatingPointAtOrAbove returns the lowest operating point whose frequency
	// is at least hz, or ErrOperatingPointNotFound.
	FindOperatingPointAtOrAbove(domain int, hz uint64) (OperatingPoint, error)
}

// PolicyActuator is the frequency policy side of a domain.
type PolicyActuator interface {
	// UpdatePolicy re-evaluates the policy of cpu; thermal ceilings are
	// applied through the policy change event delivered while doing so.
	UpdatePolicy(cpu int) error
	// ClampPolicyTo lowers the ceiling being evaluated for cpu's policy to at most maxKHz.
	ClampPolicyTo(cpu int, maxKHz uint32) error
	// CurrentFrequency returns the current frequency of cpu in kHz, or 0 if unknown.
	CurrentFrequency(cpu int) uint32
}

// IdleTimeSource returns the accumulated idle time of a cpu together with the
// wall time it was sampled at, both in microseconds.
type IdleTimeSource interface {
	IdleTimeAndNow(cpu int) (idleUs uint64, wallUs uint64, err error)
}

type CPUOnlineChecker interface {
	IsOnline(cpu int) bool
}

// StaticPowerSource resolves the platform specific leakage table of a domain.
// The table is flat, (voltSize+1) x (tempSize+1) cells: row 0 carries the
// temperature headers in Celsius, column 0 the voltage headers in mV.
type StaticPowerSource interface {
	BuildStaticPowerTable(domain int) (table []int, voltSize int, tempSize int, err error)
}

// ThermalZone is the zone a governor is evaluating power for.
type ThermalZone interface {
	ID() int
	// Temperature returns the last zone temperature in milli-Celsius.
	Temperature() int
}

// PolicyNotifier delivers policy change events to the registry.
type PolicyNotifier interface {
	Subscribe(name string, handler notifier.HandlerFunc[PolicyChangeEvent]) notifier.Subscription
}

// Policy describes one cpufreq frequency domain.
type Policy struct {
	// CPU is the cpu the policy is managed through.
	CPU int
	// RelatedCPUs are all cpus sharing the clock, online or not.
	RelatedCPUs []int
	// FrequencyTable lists the available frequencies in kHz, in any order;
	// zero and InvalidFrequency entries are skipped.
	FrequencyTable []uint32
}

// PolicyChangeEvent is raised while a policy is being re-evaluated, carrying
// the maximum frequency requested by everything but thermal constraints.
type PolicyChangeEvent struct {
	PolicyCPU    int
	RequestedMax uint32
}

// RegisterOptions selects the power model of a cooling device. A zero
// Capacitance registers a device without power extensions.
type RegisterOptions struct {
	// Capacitance is the dynamic power coefficient of the domain's cpus.
	Capacitance uint32
	StaticPower StaticPowerSource
}
