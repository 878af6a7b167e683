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
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

// LoadSample is the idle accounting of one cpu at its previous sample, in µs.
type LoadSample struct {
	IdleTime  uint64
	Timestamp uint64
}

// LoadTracker estimates per-cpu load from idle time deltas. It is not safe for
// concurrent use; the owning cooling device serialises access.
type LoadTracker struct {
	cpus    []int
	samples []LoadSample
	idle    IdleTimeSource
	online  CPUOnlineChecker
}

func NewLoadTracker(cpus []int, idle IdleTimeSource, online CPUOnlineChecker) *LoadTracker {
	return &LoadTracker{
		cpus:    append([]int(nil), cpus...),
		samples: make([]LoadSample, len(cpus)),
		idle:    idle,
		online:  online,
	}
}

// Sample returns the load of cpu in percent since it was last sampled.
// Offline or unknown cpus report 0.
func (l *LoadTracker) Sample(cpu int) uint32 {
	for i, c := range l.cpus {
		if c == cpu {
			return l.sampleIndex(i)
		}
	}
	general.Warningf("cpu %d is not tracked", cpu)
	return 0
}

// SampleAll samples every tracked cpu, returning the per-cpu loads in
// tracking order and their sum.
func (l *LoadTracker) SampleAll() ([]uint32, uint32) {
	loads := make([]uint32, len(l.cpus))
	var total uint32
	for i := range l.cpus {
		loads[i] = l.sampleIndex(i)
		total += loads[i]
	}
	return loads, total
}

func (l *LoadTracker) sampleIndex(i int) uint32 {
	cpu := l.cpus[i]
	if l.online != nil && !l.online.IsOnline(cpu) {
		return 0
	}

	nowIdle, now, err := l.idle.IdleTimeAndNow(cpu)
	if err != nil {
		general.Warningf("failed to read idle time of cpu %d: %v", cpu, err)
		return 0
	}

	prev := &l.samples[i]
	defer func() {
		prev.IdleTime = nowIdle
		prev.Timestamp = now
	}()

	// counters going backwards are treated as an idle interval and resynchronised
	if nowIdle < prev.IdleTime || now < prev.Timestamp {
		general.InfofV(4, "idle counters of cpu %d went backwards", cpu)
		return 0
	}

	deltaIdle := nowIdle - prev.IdleTime
	deltaTime := now - prev.Timestamp
	if deltaTime <= deltaIdle {
		return 0
	}
	return uint32(100 * (deltaTime - deltaIdle) / deltaTime)
}

// Samples returns a copy of the stored samples in tracking order.
func (l *LoadTracker) Samples() []LoadSample {
	return append([]LoadSample(nil), l.samples...)
}
