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

func registerPowerActor(t *testing.T, env *testEnv, opts RegisterOptions) PowerActor {
	t.Helper()

	env.idle.samples[0] = []idleSample{{idle: 0, now: 1000}}
	env.idle.samples[1] = []idleSample{{idle: 500, now: 1000}}
	env.actuator.setCurrent(0, mhz1800)

	dev, err := env.registry.Register(twoStepPolicy(0, 0, 1), opts)
	require.NoError(t, err)
	actor, ok := dev.(PowerActor)
	require.True(t, ok, "capacitance must register a power actor")
	return actor
}

func TestPowerActorRequestedPower(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	actor := registerPowerActor(t, env, RegisterOptions{Capacitance: 100})

	// (100% + 50%) of 180 mW
	power, err := actor.RequestedPower(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(270), power)

	snapshot := actor.Snapshot()
	assert.Equal(t, uint32(150), snapshot.LastLoad)
	assert.True(t, snapshot.PowerAware)
	assert.Equal(t, []uint32{180, 97}, snapshot.Powers)

	env.actuator.setCurrent(0, 0)
	power, err = actor.RequestedPower(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), power, "unknown current frequency draws nothing")
}

func TestPowerActorPowerToLevel(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	actor := registerPowerActor(t, env, RegisterOptions{Capacitance: 100})

	tests := []struct {
		name  string
		power uint32
		want  int
	}{
		{name: "zero budget", power: 0, want: 1},
		{name: "below the lowest step", power: 100, want: 1},
		{name: "between steps", power: 300, want: 0},
		{name: "above the highest step", power: 400, want: 0},
	}
	for _, tt := range tests {
		level, err := actor.PowerToLevel(nil, tt.power)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, level, tt.name)
	}

	env.online[1] = false
	level, err := actor.PowerToLevel(nil, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, level, "the budget is shared by online cpus only")

	env.online[0] = false
	_, err = actor.PowerToLevel(nil, 100)
	assert.True(t, IsNotAvailableError(err), "got %v", err)
}

func TestPowerActorLevelToPower(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	actor := registerPowerActor(t, env, RegisterOptions{Capacitance: 100})

	power, err := actor.LevelToPower(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(360), power)

	power, err = actor.LevelToPower(nil, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(194), power)

	_, err = actor.LevelToPower(nil, 2)
	assert.True(t, IsRangeError(err), "got %v", err)

	env.online[1] = false
	power, err = actor.LevelToPower(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(180), power)
}

func TestPowerActorStaticPower(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	actor := registerPowerActor(t, env, RegisterOptions{Capacitance: 100, StaticPower: twoByTwoStaticTable()})
	hot := fakeZone{id: 0, temperature: 60000}

	power, err := actor.RequestedPower(hot)
	require.NoError(t, err)
	assert.Equal(t, uint32(270+40), power)

	power, err = actor.LevelToPower(hot, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(194+20), power)

	level, err := actor.PowerToLevel(hot, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, level, "budget below the static power leaves nothing for dynamic power")

	env.actuator.setCurrent(0, 1500000)
	_, err = actor.RequestedPower(hot)
	assert.True(t, IsLookupError(err), "frequency without exact operating point: %v", err)
	_, err = actor.PowerToLevel(hot, 300)
	assert.True(t, IsLookupError(err), "got %v", err)
}

func TestPowerActorZeroVoltage(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.opps.points[0] = []OperatingPoint{
		{FrequencyHz: 1200000000, MicroVolt: 0},
		{FrequencyHz: 1800000000, MicroVolt: 1000000},
	}
	actor := registerPowerActor(t, env, RegisterOptions{Capacitance: 100, StaticPower: twoByTwoStaticTable()})

	_, err := actor.LevelToPower(fakeZone{temperature: 30000}, 1)
	assert.True(t, IsLookupError(err), "got %v", err)

	power, err := actor.LevelToPower(fakeZone{temperature: 30000}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(360+30), power)
}

func TestPowerActorPowerToLevelUsesOwnTable(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	_, err := env.registry.Register(Policy{CPU: 8, RelatedCPUs: []int{8}, FrequencyTable: []uint32{mhz1800}},
		RegisterOptions{})
	require.NoError(t, err)

	env.actuator.setCurrent(4, mhz1800)
	dev, err := env.registry.Register(twoStepPolicy(4, 4, 5), RegisterOptions{Capacitance: 100})
	require.NoError(t, err)
	actor := dev.(PowerActor)

	level, err := actor.PowerToLevel(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, actor.MaxLevel(), level, "a zero budget is the most throttled level")

	env.registry.Unregister(actor)
	_, err = actor.PowerToLevel(nil, 0)
	assert.True(t, IsRangeError(err), "unregistered device: %v", err)
}
