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

	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

// FrequencyStep is one cooling level: a frequency in kHz and the dynamic power
// in mW its cpus draw at full load.
type FrequencyStep struct {
	Frequency uint32 `json:"frequency"`
	Power     uint32 `json:"power"`
}

// FrequencyTable is ordered by strictly descending frequency, so that level 0
// is the unthrottled maximum and the last level the most throttled one.
type FrequencyTable []FrequencyStep

func validFrequency(freq uint32) bool {
	return freq != 0 && freq != InvalidFrequency
}

// findNextMax returns the largest valid entry strictly below prevMax, or 0.
func findNextMax(entries []uint32, prevMax uint32) uint32 {
	var max uint32
	for _, freq := range entries {
		if validFrequency(freq) && freq > max && freq < prevMax {
			max = freq
		}
	}
	return max
}

// BuildFrequencyTable orders the valid entries of a cpufreq table descending,
// dropping duplicates. Input order does not matter.
func BuildFrequencyTable(entries []uint32) (FrequencyTable, error) {
	valid := 0
	for _, freq := range entries {
		if validFrequency(freq) {
			valid++
		}
	}

	table := make(FrequencyTable, 0, valid)
	for freq := findNextMax(entries, InvalidFrequency); freq != 0; freq = findNextMax(entries, freq) {
		table = append(table, FrequencyStep{Frequency: freq})
		general.InfofV(6, "freq:%v KHz", freq)
	}

	if len(table) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "cpufreq table not found or has no valid entries")
	}
	if len(table) != valid {
		general.Warningf("table has %d duplicate entries", valid-len(table))
	}
	return table, nil
}

// UpdatePower fills in the full-load dynamic power of every step from the
// voltage of the matching operating point:
//
//	power = capacitance * MHz * mV^2 / 10^9
//
// Multiplying in MHz and mV keeps the product within 64 bits.
func (t FrequencyTable) UpdatePower(opps OperatingPointProvider, domain int, capacitance uint32) error {
	points, err := opps.ListOperatingPoints(domain)
	if err != nil {
		return errors.Wrapf(ErrConfiguration, "failed to list operating points of domain %d: %v", domain, err)
	}

	// the cpufreq table is also built from the operating points, so the count should match
	if len(points) != len(t) {
		return errors.Wrapf(ErrConfiguration, "number of operating points %d not matching with %d levels",
			len(points), len(t))
	}

	for i := range t {
		// the ceil operating point is taken since the kHz frequency may be
		// slightly lower than the Hz one due to truncation
		freqHz := uint64(t[i].Frequency) * 1000
		freqMHz := t[i].Frequency / 1000

		opp, err := opps.FindOperatingPointAtOrAbove(domain, freqHz)
		if err != nil {
			return errors.Wrapf(ErrLookup, "failed to get opp for %d Hz frequency: %v", freqHz, err)
		}

		voltageMV := opp.MicroVolt / 1000
		power := uint64(capacitance) * uint64(freqMHz) * voltageMV * voltageMV
		power /= 1000000000

		t[i].Power = uint32(power)
	}

	return nil
}

func (t FrequencyTable) Len() int {
	return len(t)
}

func (t FrequencyTable) MaxLevel() int {
	return len(t) - 1
}

// Frequencies returns the frequency of every level.
func (t FrequencyTable) Frequencies() []uint32 {
	freqs := make([]uint32, 0, len(t))
	for _, step := range t {
		freqs = append(freqs, step.Frequency)
	}
	return freqs
}
