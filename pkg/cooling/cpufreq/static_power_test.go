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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPowerTableLookup(t *testing.T) {
	t.Parallel()

	source := twoByTwoStaticTable()
	table, err := NewStaticPowerTable(source.table, source.voltSize, source.tempSize)
	require.NoError(t, err)

	tests := []struct {
		name         string
		microVolt    uint64
		milliCelsius int
		want         uint32
	}{
		{name: "above both axes", microVolt: 1100000, milliCelsius: 60000, want: 40},
		{name: "exact headers", microVolt: 1000000, milliCelsius: 25000, want: 30},
		{name: "between headers", microVolt: 950000, milliCelsius: 30000, want: 10},
		{name: "lowest voltage header", microVolt: 900000, milliCelsius: 49999, want: 10},
		{name: "below both axes", microVolt: 800000, milliCelsius: 10000, want: 10},
		{name: "negative temperature", microVolt: 1000000, milliCelsius: -5000, want: 30},
		{name: "voltage truncated to mV", microVolt: 999999, milliCelsius: 50000, want: 20},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, table.Lookup(tt.microVolt, tt.milliCelsius))
		})
	}
}

func TestNewStaticPowerTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		cells              []int
		voltSize, tempSize int
	}{
		{name: "no axes", cells: []int{0}, voltSize: 0, tempSize: 0},
		{name: "shape mismatch", cells: []int{0, 25, 900}, voltSize: 1, tempSize: 1},
		{name: "negative power", cells: []int{0, 25, 900, -1}, voltSize: 1, tempSize: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewStaticPowerTable(tt.cells, tt.voltSize, tt.tempSize)
			assert.True(t, IsConfigurationError(err), "got %v", err)
		})
	}

	table, err := NewStaticPowerTable([]int{0, 25, 900, 7}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, table.VoltageAxisSize())
	assert.Equal(t, 1, table.TemperatureAxisSize())
	assert.Equal(t, uint32(7), table.Lookup(0, 0))
}
