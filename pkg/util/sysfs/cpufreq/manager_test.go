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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	cooling "github.com/kubewharf/katalyst-cooling/pkg/cooling/cpufreq"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/notifier"
)

func newTestManager(t *testing.T, dryRun bool) (*Manager, *atomic.Uint32, string) {
	t.Helper()

	root := makeSysfs(t, fakePolicy{cpu: 0, related: "0 1", frequencies: "1800000 1200000", max: 1800000, cur: 1200000})
	policies, err := DiscoverPolicies(root)
	require.NoError(t, err)

	events := notifier.New[cooling.PolicyChangeEvent]()
	m := NewManager(policies, events, 10*time.Millisecond, dryRun)

	clamp := atomic.NewUint32(0)
	events.Subscribe("test", func(event cooling.PolicyChangeEvent) {
		if c := clamp.Load(); c != 0 && c < event.RequestedMax {
			assert.NoError(t, m.ClampPolicyTo(event.PolicyCPU, c))
		}
	})
	return m, clamp, root
}

func TestManagerUpdatePolicy(t *testing.T) {
	t.Parallel()

	m, clamp, root := newTestManager(t, false)
	assert.Equal(t, uint32(1800000), m.UserMax(0))

	require.NoError(t, m.UpdatePolicy(0))
	assert.Equal(t, "1800000\n", readPolicyFile(t, root, 0, fileScalingMaxFreq), "unchanged ceiling is not rewritten")

	clamp.Store(1200000)
	require.NoError(t, m.UpdatePolicy(0))
	assert.Equal(t, "1200000", readPolicyFile(t, root, 0, fileScalingMaxFreq))
	assert.Equal(t, uint32(1800000), m.UserMax(0), "clamps never change the user ceiling")

	clamp.Store(0)
	require.NoError(t, m.UpdatePolicy(0))
	assert.Equal(t, "1800000", readPolicyFile(t, root, 0, fileScalingMaxFreq))

	assert.Equal(t, uint32(1200000), m.CurrentFrequency(0))
	assert.Equal(t, uint32(0), m.CurrentFrequency(9))
	assert.Error(t, m.UpdatePolicy(9))
	assert.Error(t, m.ClampPolicyTo(9, 1000000))
	assert.Equal(t, uint32(0), m.UserMax(9))
}

func TestManagerSyncAndRestore(t *testing.T) {
	t.Parallel()

	m, clamp, root := newTestManager(t, false)
	clamp.Store(1200000)
	require.NoError(t, m.UpdatePolicy(0))

	// the ceiling applied by us is not a user change
	m.Sync(context.Background())
	assert.Equal(t, uint32(1800000), m.UserMax(0))

	writePolicyFile(t, root, 0, fileScalingMaxFreq, "1500000")
	m.Sync(context.Background())
	assert.Equal(t, uint32(1500000), m.UserMax(0))
	assert.Equal(t, "1200000", readPolicyFile(t, root, 0, fileScalingMaxFreq), "new user ceiling is clamped again")

	require.NoError(t, m.Restore())
	assert.Equal(t, "1500000", readPolicyFile(t, root, 0, fileScalingMaxFreq))
}

func TestManagerSyncDuringPolicyWrite(t *testing.T) {
	t.Parallel()

	m, clamp, root := newTestManager(t, false)
	done := make(chan struct{})
	var once sync.Once
	m.writeFile = func(dir, file, data string) (bool, string, error) {
		applied, old, err := instrumentedWriteFileIfChange(dir, file, data)
		once.Do(func() {
			// the clamp is on disk but not yet recorded as applied
			go func() {
				m.Sync(context.Background())
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(50 * time.Millisecond):
			}
		})
		return applied, old, err
	}

	clamp.Store(1200000)
	require.NoError(t, m.UpdatePolicy(0))
	<-done
	assert.Equal(t, uint32(1800000), m.UserMax(0), "a clamp being written is not a user change")

	clamp.Store(0)
	require.NoError(t, m.UpdatePolicy(0))
	assert.Equal(t, "1800000", readPolicyFile(t, root, 0, fileScalingMaxFreq))
}

func TestManagerRun(t *testing.T) {
	t.Parallel()

	m, _, root := newTestManager(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	writePolicyFile(t, root, 0, fileScalingMaxFreq, "1200000")
	assert.Eventually(t, func() bool {
		return m.UserMax(0) == 1200000
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerDryRun(t *testing.T) {
	t.Parallel()

	m, clamp, root := newTestManager(t, true)
	clamp.Store(1200000)
	require.NoError(t, m.UpdatePolicy(0))
	assert.Equal(t, "1800000\n", readPolicyFile(t, root, 0, fileScalingMaxFreq))

	m.Sync(context.Background())
	assert.Equal(t, uint32(1800000), m.UserMax(0))
	require.NoError(t, m.Restore())
}

func TestWriteFileIfChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, _, err := writeFileIfChange(dir, "missing", "1")
	assert.Error(t, err)

	root := makeSysfs(t, fakePolicy{cpu: 0, related: "0", frequencies: "1000000", max: 1000000, cur: 1000000})
	applied, old, err := writeFileIfChange(PolicyDir(root, 0), fileScalingMaxFreq, "1000000")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "1000000", old)

	applied, old, err = writeFileIfChange(PolicyDir(root, 0), fileScalingMaxFreq, "900000")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "1000000", old)
}
