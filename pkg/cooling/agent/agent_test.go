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

package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewharf/katalyst-cooling/pkg/config"
	cooling "github.com/kubewharf/katalyst-cooling/pkg/cooling/cpufreq"
	"github.com/kubewharf/katalyst-cooling/pkg/util/thermal"
)

const testPlatform = `
cold-temperature-millicelsius: 10000
zone-power-coefficients: [120]
policies:
  - cpu: 0
    related-cpus: [0, 1]
    thermal-zone: 0
    operating-points:
      - {frequency-hz: 1200000000, microvolt: 900000}
      - {frequency-hz: 1800000000, microvolt: 1000000}
    static-power:
      voltages-mv: [900, 1000]
      temperatures-c: [25, 50]
      table:
        - [10, 20]
        - [30, 40]
  - cpu: 2
    related-cpus: [2, 3]
    dynamic-power-coefficient: 300
    operating-points:
      - {frequency-hz: 1000000000, microvolt: 800000}
      - {frequency-hz: 2000000000, microvolt: 1100000}
`

const reducedPlatform = `
policies:
  - cpu: 2
    related-cpus: [2, 3]
    dynamic-power-coefficient: 300
    operating-points:
      - {frequency-hz: 1000000000, microvolt: 800000}
      - {frequency-hz: 2000000000, microvolt: 1100000}
`

const procStat = `cpu  400 0 200 1000 100 0 0 0 0 0
cpu0 100 0 50 250 25 0 0 0 0 0
cpu1 100 0 50 250 25 0 0 0 0 0
cpu2 100 0 50 250 25 0 0 0 0 0
cpu3 100 0 50 250 25 0 0 0 0 0
intr 0
ctxt 0
btime 1700000000
processes 1
procs_running 1
procs_blocked 0
softirq 0 0 0 0 0 0 0 0 0 0 0
`

func newTestConfiguration(t *testing.T) *config.Configuration {
	t.Helper()

	dir := t.TempDir()
	sysRoot := filepath.Join(dir, "sys")
	procRoot := filepath.Join(dir, "proc")
	require.NoError(t, os.MkdirAll(sysRoot, 0o755))
	require.NoError(t, os.MkdirAll(procRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "stat"), []byte(procStat), 0o644))

	platformFile := filepath.Join(dir, "platform.yaml")
	require.NoError(t, os.WriteFile(platformFile, []byte(testPlatform), 0o644))

	conf := config.NewConfiguration()
	conf.DryRun = true
	conf.SysfsRoot = sysRoot
	conf.ProcfsRoot = procRoot
	conf.PlatformFile = platformFile
	conf.PollInterval = 10 * time.Millisecond
	conf.SyncInterval = 10 * time.Millisecond
	return conf
}

func powerAware(t *testing.T, a *Agent, id int) bool {
	t.Helper()

	dev, ok := a.Get(id)
	require.True(t, ok)
	_, isActor := dev.(cooling.PowerActor)
	return isActor
}

func TestNewAgentDryRun(t *testing.T) {
	t.Parallel()

	a, err := NewAgent(newTestConfiguration(t), nil)
	require.NoError(t, err)

	devices := a.List()
	require.Len(t, devices, 2)
	assert.Equal(t, 0, devices[0].Policy().CPU)
	assert.Equal(t, []int{2, 3}, devices[1].Policy().RelatedCPUs)
	assert.True(t, powerAware(t, a, 0))
	assert.True(t, powerAware(t, a, 1))

	require.NoError(t, devices[0].SetLevel(1))
	assert.Equal(t, uint32(1200000), devices[0].Snapshot().ClippedFrequency)
	assert.Equal(t, uint32(1800000), a.manager.UserMax(0))
}

func TestNewAgentWithoutPolicies(t *testing.T) {
	t.Parallel()

	conf := newTestConfiguration(t)
	conf.DryRun = false
	_, err := NewAgent(conf, nil)
	require.Error(t, err)
	assert.True(t, cooling.IsNotAvailableError(err))

	conf = newTestConfiguration(t)
	conf.PlatformFile = ""
	_, err = NewAgent(conf, nil)
	assert.True(t, cooling.IsNotAvailableError(err))
}

func TestAgentApplyTemperature(t *testing.T) {
	t.Parallel()

	a, err := NewAgent(newTestConfiguration(t), nil)
	require.NoError(t, err)

	zone := thermal.NewStaticZone(0, 5000)
	a.zone = zone
	a.applyTemperature(context.Background())
	assert.Equal(t, cooling.TemperatureCold, a.TemperatureState())

	zone.Set(45000)
	a.applyTemperature(context.Background())
	assert.Equal(t, cooling.TemperatureNormal, a.TemperatureState())
}

func TestAgentReload(t *testing.T) {
	t.Parallel()

	conf := newTestConfiguration(t)
	a, err := NewAgent(conf, nil)
	require.NoError(t, err)

	dev, ok := a.Get(0)
	require.True(t, ok)
	require.NoError(t, dev.SetLevel(1))

	require.NoError(t, os.WriteFile(conf.PlatformFile, []byte(reducedPlatform), 0o644))
	require.NoError(t, a.Reload())

	require.Len(t, a.List(), 2)
	assert.False(t, powerAware(t, a, 0), "cpu0 lost its power model")
	assert.True(t, powerAware(t, a, 1))
	dev, ok = a.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0, dev.GetLevel())

	require.NoError(t, os.WriteFile(conf.PlatformFile, []byte("policies: ["), 0o644))
	assert.Error(t, a.Reload())
	assert.Len(t, a.List(), 2)
}

func TestAgentRun(t *testing.T) {
	t.Parallel()

	conf := newTestConfiguration(t)
	conf.RestoreOnExit = true
	a, err := NewAgent(conf, nil)
	require.NoError(t, err)
	a.zone = thermal.NewStaticZone(0, 5000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	require.Eventually(t, a.Running, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return a.TemperatureState() == cooling.TemperatureCold
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, a.Run(ctx))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
	assert.False(t, a.Running())
	assert.Empty(t, a.List())
}
