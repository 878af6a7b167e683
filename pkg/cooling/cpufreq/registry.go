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
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubewharf/katalyst-cooling/pkg/cooling/metric"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/notifier"
	"github.com/kubewharf/katalyst-cooling/pkg/metrics"
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
	"github.com/kubewharf/katalyst-cooling/pkg/util/ida"
)

const (
	// DefaultColdTemperature is the zone temperature in milli-Celsius below
	// which the registry reports the cold state.
	DefaultColdTemperature = 15000

	policyNotifierSubscriber = "cpufreq-cooling"
)

// RegistryDeps are the platform collaborators shared by every cooling device.
type RegistryDeps struct {
	OperatingPoints OperatingPointProvider
	Actuator        PolicyActuator
	IdleTime        IdleTimeSource
	Online          CPUOnlineChecker
	PolicyNotifier  PolicyNotifier
	Emitter         metrics.MetricEmitter

	// ColdTemperature overrides DefaultColdTemperature when non-zero.
	ColdTemperature int
	// MaxDevices bounds the id space, ida.DefaultMax when zero.
	MaxDevices int
}

type registryEntry struct {
	base   *cpufreqCoolingDevice
	device CoolingDevice
}

// Registry owns the cpufreq cooling devices of a node. It subscribes to policy
// change events while at least one device is registered.
type Registry struct {
	deps    RegistryDeps
	emitter metrics.MetricEmitter
	ids     *ida.Allocator

	// mutex guards entries and subscription; it may be held while taking a
	// device mutex, never the other way round.
	mutex        sync.Mutex
	entries      []registryEntry
	subscription notifier.Subscription

	coldTemperature     int
	temperatureState    *atomic.Int32
	temperatureNotifier *notifier.Notifier[TemperatureStateEvent]
}

func NewRegistry(deps RegistryDeps) *Registry {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = metrics.DummyMetrics{}
	}

	cold := deps.ColdTemperature
	if cold == 0 {
		cold = DefaultColdTemperature
	}

	maxDevices := deps.MaxDevices
	if maxDevices <= 0 {
		maxDevices = ida.DefaultMax
	}

	return &Registry{
		deps:                deps,
		emitter:             emitter,
		ids:                 ida.NewAllocator(maxDevices),
		coldTemperature:     cold,
		temperatureState:    atomic.NewInt32(int32(TemperatureNormal)),
		temperatureNotifier: notifier.New[TemperatureStateEvent](),
	}
}

// Register creates a cooling device for policy. A non-zero capacitance
// registers a PowerActor.
func (r *Registry) Register(policy Policy, opts RegisterOptions) (CoolingDevice, error) {
	if r.deps.Actuator == nil || r.deps.PolicyNotifier == nil {
		return nil, errors.Wrap(ErrConfiguration, "cooling registry needs a policy actuator and notifier")
	}
	if len(policy.RelatedCPUs) == 0 {
		return nil, errors.Wrapf(ErrConfiguration, "policy of cpu %d has no related cpus", policy.CPU)
	}
	if !sets.NewInt(policy.RelatedCPUs...).Has(policy.CPU) {
		return nil, errors.Wrapf(ErrConfiguration, "policy cpu %d is not among its related cpus %v",
			policy.CPU, policy.RelatedCPUs)
	}

	table, err := BuildFrequencyTable(policy.FrequencyTable)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build frequency table of cpu %d", policy.CPU)
	}

	related := append([]int(nil), policy.RelatedCPUs...)
	sort.Ints(related)
	policy.RelatedCPUs = related
	policy.FrequencyTable = table.Frequencies()

	id, err := r.ids.Get()
	if err != nil {
		return nil, errors.Wrapf(ErrResource, "failed to allocate cooling device id: %v", err)
	}

	device, err := r.newDevice(id, policy, table, opts)
	if err != nil {
		r.ids.Remove(id)
		metric.EmitErrorCode(r.emitter.WithTags("cooling", metric.DeviceTags("", policy.CPU)...),
			metric.ErrorCodeRegisterFailure)
		return nil, err
	}

	r.mutex.Lock()
	for _, entry := range r.entries {
		for _, cpu := range related {
			if entry.base.hasCPU(cpu) {
				r.mutex.Unlock()
				r.ids.Remove(id)
				return nil, errors.Wrapf(ErrConfiguration, "cpu %d of policy %d already belongs to cooling device %s",
					cpu, policy.CPU, entry.base.name)
			}
		}
	}

	// the notifier does not hold its own lock while delivering, so
	// subscribing here cannot deadlock with a concurrent policy update
	if len(r.entries) == 0 {
		r.subscription = r.deps.PolicyNotifier.Subscribe(policyNotifierSubscriber, r.OnPolicyChange)
	}
	r.entries = append(r.entries, registryEntry{base: device.base, device: device.device})
	count := len(r.entries)
	r.mutex.Unlock()

	general.Infof("registered %s for cpus %v, %d levels, power aware %v",
		device.base.name, related, len(table), opts.Capacitance != 0)
	metric.EmitDeviceCount(r.emitter, count)
	return device.device, nil
}

func (r *Registry) newDevice(id int, policy Policy, table FrequencyTable, opts RegisterOptions) (registryEntry, error) {
	if opts.Capacitance == 0 {
		base := newCpufreqCoolingDevice(id, policy, table, r)
		return registryEntry{base: base, device: base}, nil
	}

	if r.deps.OperatingPoints == nil || r.deps.IdleTime == nil {
		return registryEntry{}, errors.Wrap(ErrConfiguration, "power aware cooling needs operating points and idle time")
	}
	if err := table.UpdatePower(r.deps.OperatingPoints, policy.CPU, opts.Capacitance); err != nil {
		return registryEntry{}, errors.Wrapf(err, "failed to update power of cpu %d", policy.CPU)
	}

	var staticTable *StaticPowerTable
	if opts.StaticPower != nil {
		cells, voltSize, tempSize, err := opts.StaticPower.BuildStaticPowerTable(policy.CPU)
		if err != nil {
			return registryEntry{}, errors.Wrapf(ErrConfiguration, "failed to build static power table of cpu %d: %v",
				policy.CPU, err)
		}
		staticTable, err = NewStaticPowerTable(cells, voltSize, tempSize)
		if err != nil {
			return registryEntry{}, err
		}
	}

	base := newCpufreqCoolingDevice(id, policy, table, r)
	device := &powerCoolingDevice{
		cpufreqCoolingDevice: base,
		opps:                 r.deps.OperatingPoints,
		online:               r.deps.Online,
		loads:                NewLoadTracker(policy.RelatedCPUs, r.deps.IdleTime, r.deps.Online),
		staticTable:          staticTable,
	}
	return registryEntry{base: base, device: device}, nil
}

// Unregister removes a device and releases its id. Unknown devices are ignored.
func (r *Registry) Unregister(device CoolingDevice) {
	if device == nil {
		return
	}

	r.mutex.Lock()
	index := -1
	for i, entry := range r.entries {
		if entry.device == device {
			index = i
			break
		}
	}
	if index < 0 {
		r.mutex.Unlock()
		return
	}

	r.entries = append(r.entries[:index], r.entries[index+1:]...)
	if len(r.entries) == 0 && r.subscription != nil {
		r.subscription.Cancel()
		r.subscription = nil
	}
	count := len(r.entries)
	r.mutex.Unlock()

	r.ids.Remove(device.ID())
	general.Infof("unregistered %s", device.Name())
	metric.EmitDeviceCount(r.emitter, count)
}

// OnPolicyChange clamps the requested maximum of a policy under evaluation to
// the clipped frequency of its cooling device.
func (r *Registry) OnPolicyChange(event PolicyChangeEvent) {
	r.mutex.Lock()
	var device *cpufreqCoolingDevice
	for _, entry := range r.entries {
		if entry.base.policy.CPU == event.PolicyCPU {
			device = entry.base
			break
		}
	}
	var clipped uint32
	if device != nil {
		clipped = device.ClippedFrequency()
	}
	r.mutex.Unlock()

	if device == nil || clipped >= event.RequestedMax {
		return
	}

	device.logger.InfofV(4, "clamp policy max %d KHz to %d KHz", event.RequestedMax, clipped)
	if err := r.deps.Actuator.ClampPolicyTo(event.PolicyCPU, clipped); err != nil {
		general.Errorf("failed to clamp policy of cpu %d to %d KHz: %v", event.PolicyCPU, clipped, err)
		metric.EmitErrorCode(device.emitter, metric.ErrorCodePolicyClampFailure)
		return
	}
	metric.EmitPolicyClamp(device.emitter)
}

// LevelForCPU returns the cooling level for freq kHz of the device covering
// cpu, or InvalidLevel when no device does.
func (r *Registry) LevelForCPU(cpu int, freq uint32) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, entry := range r.entries {
		if entry.base.hasCPU(cpu) {
			return entry.base.table.LevelForFrequency(freq)
		}
	}

	general.Errorf("cpu:%d is not part of any cooling device", cpu)
	return InvalidLevel
}

// Get returns the device with id.
func (r *Registry) Get(id int) (CoolingDevice, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, entry := range r.entries {
		if entry.base.id == id {
			return entry.device, true
		}
	}
	return nil, false
}

// List returns the devices ordered by id.
func (r *Registry) List() []CoolingDevice {
	r.mutex.Lock()
	devices := make([]CoolingDevice, 0, len(r.entries))
	for _, entry := range r.entries {
		devices = append(devices, entry.device)
	}
	r.mutex.Unlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID() < devices[j].ID()
	})
	return devices
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}

// Subscribed reports whether the registry listens to policy change events.
func (r *Registry) Subscribed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.subscription != nil
}
