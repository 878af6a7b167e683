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

// The lookups below scan linearly; tables hold tens of entries and the
// scans decide ties exactly the way cooling levels are defined.

// LevelForFrequency returns the most throttled level still allowing freq,
// i.e. the level of the nearest step at or above freq. A frequency equal to
// a step resolves to that step; frequencies above the maximum resolve to 0.
func (t FrequencyTable) LevelForFrequency(freq uint32) int {
	level := 1
	for ; level <= t.MaxLevel(); level++ {
		if freq > t[level].Frequency {
			break
		}
	}
	return level - 1
}

// PowerForFrequency returns the full-load power of the nearest step at or above freq.
func (t FrequencyTable) PowerForFrequency(freq uint32) uint32 {
	return t[t.LevelForFrequency(freq)].Power
}

// FrequencyForPower scans from the highest frequency downwards and stops at
// the first step drawing less than power, answering the step just above it.
// Budgets below every step saturate at the most throttled frequency.
func (t FrequencyTable) FrequencyForPower(power uint32) uint32 {
	i := 1
	for ; i <= t.MaxLevel(); i++ {
		if power > t[i].Power {
			break
		}
	}
	return t[i-1].Frequency
}

// DynamicPower scales the full-load power at freq by load, a percentage
// that may exceed 100 when it sums several cpus.
func (t FrequencyTable) DynamicPower(freq uint32, load uint32) uint32 {
	return t.PowerForFrequency(freq) * load / 100
}
