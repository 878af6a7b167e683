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
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/kubewharf/katalyst-cooling/pkg/cooling/notifier"
)

const (
	mhz1200 = 1200000
	mhz1800 = 1800000
)

// ascending operating points at 1.2 GHz/900 mV and 1.8 GHz/1000 mV
func twoStepPoints() []OperatingPoint {
	return []OperatingPoint{
		{FrequencyHz: 1200000000, MicroVolt: 900000},
		{FrequencyHz: 1800000000, MicroVolt: 1000000},
	}
}

type fakeOperatingPoints struct {
	points  map[int][]OperatingPoint
	listErr error
}

func (f *fakeOperatingPoints) ListOperatingPoints(domain int) ([]OperatingPoint, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.points[domain], nil
}

func (f *fakeOperatingPoints) FindOperatingPointAtOrAbove(domain int, hz uint64) (OperatingPoint, error) {
	for _, point := range f.points[domain] {
		if point.FrequencyHz >= hz {
			return point, nil
		}
	}
	return OperatingPoint{}, ErrOperatingPointNotFound
}

type clampCall struct {
	cpu    int
	maxKHz uint32
}

// fakeActuator evaluates a policy by raising a change event with the user
// maximum, the way a cpufreq core would.
type fakeActuator struct {
	mutex    sync.Mutex
	notifier *notifier.Notifier[PolicyChangeEvent]
	userMax  map[int]uint32
	current  map[int]uint32
	updates  []int
	clamps   []clampCall
	applied  map[int]uint32
	pending  map[int]uint32
	updateFn func(cpu int) error
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{
		notifier: notifier.New[PolicyChangeEvent](),
		userMax:  map[int]uint32{},
		current:  map[int]uint32{},
		applied:  map[int]uint32{},
		pending:  map[int]uint32{},
	}
}

func (f *fakeActuator) UpdatePolicy(cpu int) error {
	f.mutex.Lock()
	f.updates = append(f.updates, cpu)
	max := f.userMax[cpu]
	f.pending[cpu] = max
	updateFn := f.updateFn
	f.mutex.Unlock()

	if updateFn != nil {
		if err := updateFn(cpu); err != nil {
			return err
		}
	}

	f.notifier.Notify(PolicyChangeEvent{PolicyCPU: cpu, RequestedMax: max})

	f.mutex.Lock()
	f.applied[cpu] = f.pending[cpu]
	f.mutex.Unlock()
	return nil
}

func (f *fakeActuator) ClampPolicyTo(cpu int, maxKHz uint32) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.clamps = append(f.clamps, clampCall{cpu: cpu, maxKHz: maxKHz})
	if maxKHz < f.pending[cpu] {
		f.pending[cpu] = maxKHz
	}
	return nil
}

func (f *fakeActuator) CurrentFrequency(cpu int) uint32 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.current[cpu]
}

func (f *fakeActuator) setCurrent(cpu int, freq uint32) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.current[cpu] = freq
}

func (f *fakeActuator) updateCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.updates)
}

func (f *fakeActuator) appliedMax(cpu int) uint32 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.applied[cpu]
}

type mockActuator struct {
	mock.Mock
}

func (m *mockActuator) UpdatePolicy(cpu int) error {
	args := m.Called(cpu)
	return args.Error(0)
}

func (m *mockActuator) ClampPolicyTo(cpu int, maxKHz uint32) error {
	args := m.Called(cpu, maxKHz)
	return args.Error(0)
}

func (m *mockActuator) CurrentFrequency(cpu int) uint32 {
	args := m.Called(cpu)
	return args.Get(0).(uint32)
}

type idleSample struct {
	idle, now uint64
}

// fakeIdleTime replays samples per cpu and keeps returning the last one.
type fakeIdleTime struct {
	mutex   sync.Mutex
	samples map[int][]idleSample
	reads   map[int]int
	err     error
}

func newFakeIdleTime(samples map[int][]idleSample) *fakeIdleTime {
	return &fakeIdleTime{samples: samples, reads: map[int]int{}}
}

func (f *fakeIdleTime) IdleTimeAndNow(cpu int) (uint64, uint64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}

	samples := f.samples[cpu]
	if len(samples) == 0 {
		return 0, 0, nil
	}
	index := f.reads[cpu]
	if index >= len(samples) {
		index = len(samples) - 1
	}
	f.reads[cpu]++
	return samples[index].idle, samples[index].now, nil
}

func (f *fakeIdleTime) readCount(cpu int) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.reads[cpu]
}

type fakeOnline map[int]bool

// IsOnline treats cpus missing from the map as online.
func (f fakeOnline) IsOnline(cpu int) bool {
	online, ok := f[cpu]
	return !ok || online
}

type fakeZone struct {
	id          int
	temperature int
}

func (z fakeZone) ID() int {
	return z.id
}

func (z fakeZone) Temperature() int {
	return z.temperature
}

type fakeStaticPower struct {
	table              []int
	voltSize, tempSize int
	err                error
}

func (f fakeStaticPower) BuildStaticPowerTable(_ int) ([]int, int, int, error) {
	return f.table, f.voltSize, f.tempSize, f.err
}

// two voltage buckets (900, 1000 mV) by two temperature buckets (25, 50 C)
func twoByTwoStaticTable() fakeStaticPower {
	return fakeStaticPower{
		table: []int{
			0, 25, 50,
			900, 10, 20,
			1000, 30, 40,
		},
		voltSize: 2,
		tempSize: 2,
	}
}

type testEnv struct {
	opps     *fakeOperatingPoints
	actuator *fakeActuator
	idle     *fakeIdleTime
	online   fakeOnline
	registry *Registry
}

func newTestEnv() *testEnv {
	env := &testEnv{
		opps: &fakeOperatingPoints{points: map[int][]OperatingPoint{
			0: twoStepPoints(),
			4: twoStepPoints(),
			8: twoStepPoints(),
		}},
		actuator: newFakeActuator(),
		idle:     newFakeIdleTime(map[int][]idleSample{}),
		online:   fakeOnline{},
	}
	env.registry = NewRegistry(RegistryDeps{
		OperatingPoints: env.opps,
		Actuator:        env.actuator,
		IdleTime:        env.idle,
		Online:          env.online,
		PolicyNotifier:  env.actuator.notifier,
	})
	return env
}

func twoStepPolicy(cpu int, related ...int) Policy {
	if len(related) == 0 {
		related = []int{cpu}
	}
	return Policy{CPU: cpu, RelatedCPUs: related, FrequencyTable: []uint32{mhz1200, mhz1800}}
}
