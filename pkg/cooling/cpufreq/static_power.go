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
)

// StaticPowerTable is the leakage lookup of a domain indexed by voltage and
// temperature buckets. Cells are kept in the flat platform layout: row 0
// holds the temperature headers, column 0 the voltage headers.
type StaticPowerTable struct {
	cells    []int
	voltSize int
	tempSize int
}

func NewStaticPowerTable(cells []int, voltSize, tempSize int) (*StaticPowerTable, error) {
	if voltSize < 1 || tempSize < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "invalid static power table axes %dx%d", voltSize, tempSize)
	}
	if len(cells) != (voltSize+1)*(tempSize+1) {
		return nil, errors.Wrapf(ErrConfiguration, "static power table has %d cells, expecting %d",
			len(cells), (voltSize+1)*(tempSize+1))
	}

	for v := 1; v <= voltSize; v++ {
		for t := 1; t <= tempSize; t++ {
			if cells[v*(tempSize+1)+t] < 0 {
				return nil, errors.Wrapf(ErrConfiguration, "negative static power at bucket (%d, %d)", v, t)
			}
		}
	}

	return &StaticPowerTable{
		cells:    append([]int(nil), cells...),
		voltSize: voltSize,
		tempSize: tempSize,
	}, nil
}

func (s *StaticPowerTable) VoltageAxisSize() int {
	return s.voltSize
}

func (s *StaticPowerTable) TemperatureAxisSize() int {
	return s.tempSize
}

// Lookup returns the static power in mW for a voltage in µV at a temperature
// in milli-Celsius. Both axes are searched for the nearest bucket at or below
// the value and saturate at either end.
func (s *StaticPowerTable) Lookup(microVolt uint64, milliCelsius int) uint32 {
	voltage := int(microVolt / 1000)
	temperature := milliCelsius / 1000

	voltIndex := bucket(voltage, s.voltSize, func(i int) int {
		return s.cells[i*(s.tempSize+1)]
	})
	tempIndex := bucket(temperature, s.tempSize, func(i int) int {
		return s.cells[i]
	})

	return uint32(s.cells[voltIndex*(s.tempSize+1)+tempIndex])
}

// bucket picks the index just below the first header greater than value.
// Index 0 is the header row/column itself, so the result is clamped into
// [1, size]; values below every header land in bucket 1.
func bucket(value, size int, header func(i int) int) int {
	index := 0
	for ; index <= size; index++ {
		if value < header(index) {
			index--
			break
		}
	}

	if index < 1 {
		index = 1
	}
	if index > size {
		index = size
	}
	return index
}
