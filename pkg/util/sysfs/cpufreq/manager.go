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
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	cooling "github.com/kubewharf/katalyst-cooling/pkg/cooling/cpufreq"
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

const DefaultSyncInterval = 2 * time.Second

// PolicyEventSink receives the change events raised while a policy is evaluated.
type PolicyEventSink interface {
	Notify(event cooling.PolicyChangeEvent)
}

type policyState struct {
	dir string
	// userMax is the ceiling requested by everything but thermal constraints
	userMax uint32
	// pending is the ceiling under evaluation, only lowered by clamps
	pending uint32
	// applied is the ceiling last written to scaling_max_freq
	applied uint32
}

// Manager is the sysfs backed cpufreq policy actuator. Evaluating a policy
// raises a change event carrying the user ceiling, lets subscribers clamp it
// and writes the result to scaling_max_freq.
type Manager struct {
	events   PolicyEventSink
	interval time.Duration
	dryRun   bool

	// updateMutex serialises policy evaluations with everything reading or
	// writing scaling_max_freq, so a ceiling being written is never taken
	// for a user change
	updateMutex sync.Mutex
	mutex       sync.Mutex
	policies    map[int]*policyState

	writeFile func(dir, file, data string) (bool, string, error)
}

var _ cooling.PolicyActuator = &Manager{}

func NewManager(policies []PolicyInfo, events PolicyEventSink, interval time.Duration, dryRun bool) *Manager {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	m := &Manager{
		events:   events,
		interval: interval,
		dryRun:   dryRun,
		policies:  make(map[int]*policyState, len(policies)),
		writeFile: instrumentedWriteFileIfChange,
	}
	for _, info := range policies {
		userMax := info.ScalingMax
		if userMax == 0 {
			userMax = info.CpuinfoMax
		}
		if userMax == 0 {
			for _, freq := range info.Frequencies {
				if freq > userMax {
					userMax = freq
				}
			}
		}
		m.policies[info.CPU] = &policyState{
			dir:     info.Dir,
			userMax: userMax,
			pending: userMax,
			applied: userMax,
		}
	}
	return m
}

func (m *Manager) getState(cpu int) (*policyState, error) {
	state, ok := m.policies[cpu]
	if !ok {
		return nil, errors.Errorf("cpu %d is not a managed policy cpu", cpu)
	}
	return state, nil
}

func (m *Manager) UpdatePolicy(cpu int) error {
	m.updateMutex.Lock()
	defer m.updateMutex.Unlock()

	return m.updatePolicy(cpu)
}

// updatePolicy must be called with updateMutex held.
func (m *Manager) updatePolicy(cpu int) error {
	m.mutex.Lock()
	state, err := m.getState(cpu)
	if err != nil {
		m.mutex.Unlock()
		return err
	}
	state.pending = state.userMax
	userMax := state.userMax
	m.mutex.Unlock()

	// subscribers call back into ClampPolicyTo
	m.events.Notify(cooling.PolicyChangeEvent{PolicyCPU: cpu, RequestedMax: userMax})

	m.mutex.Lock()
	target := state.pending
	m.mutex.Unlock()

	if m.dryRun {
		general.Infof("[dry-run] policy%d scaling_max_freq -> %d KHz", cpu, target)
	} else if _, _, err := m.writeFile(state.dir, fileScalingMaxFreq, strconv.FormatUint(uint64(target), 10)); err != nil {
		return errors.Wrapf(err, "failed to write scaling_max_freq of policy%d", cpu)
	}

	m.mutex.Lock()
	state.applied = target
	m.mutex.Unlock()
	return nil
}

func (m *Manager) ClampPolicyTo(cpu int, maxKHz uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	state, err := m.getState(cpu)
	if err != nil {
		return err
	}
	if maxKHz < state.pending {
		state.pending = maxKHz
	}
	return nil
}

// CurrentFrequency returns scaling_cur_freq of cpu's policy, 0 if unreadable.
func (m *Manager) CurrentFrequency(cpu int) uint32 {
	m.mutex.Lock()
	state, err := m.getState(cpu)
	m.mutex.Unlock()
	if err != nil {
		return 0
	}

	freq, err := readKHz(state.dir, fileScalingCurFreq)
	if err != nil {
		general.InfofV(4, "failed to read scaling_cur_freq of policy%d: %v", cpu, err)
		return 0
	}
	return freq
}

// UserMax returns the ceiling requested for cpu's policy without thermal constraints.
func (m *Manager) UserMax(cpu int) uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if state, err := m.getState(cpu); err == nil {
		return state.userMax
	}
	return 0
}

// Run keeps track of ceilings written by others until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	wait.UntilWithContext(ctx, m.Sync, m.interval)
}

// Sync takes a scaling_max_freq that differs from the last applied value as
// a new user ceiling and re-evaluates the policy.
func (m *Manager) Sync(_ context.Context) {
	// nothing is written in dry run, the files always differ
	if m.dryRun {
		return
	}

	m.updateMutex.Lock()
	defer m.updateMutex.Unlock()

	m.mutex.Lock()
	var changed []int
	for cpu, state := range m.policies {
		current, err := readKHz(state.dir, fileScalingMaxFreq)
		if err != nil {
			general.InfofV(4, "failed to read scaling_max_freq of policy%d: %v", cpu, err)
			continue
		}
		if current != state.applied {
			general.Infof("policy%d user max changed %d -> %d KHz", cpu, state.userMax, current)
			state.userMax = current
			changed = append(changed, cpu)
		}
	}
	m.mutex.Unlock()

	for _, cpu := range changed {
		if err := m.updatePolicy(cpu); err != nil {
			general.Errorf("failed to update policy%d: %v", cpu, err)
		}
	}
}

// Restore writes the user ceilings back, releasing every thermal clamp.
func (m *Manager) Restore() error {
	m.updateMutex.Lock()
	defer m.updateMutex.Unlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var errList []error
	for cpu, state := range m.policies {
		if m.dryRun || state.applied == state.userMax {
			continue
		}
		if _, _, err := m.writeFile(state.dir, fileScalingMaxFreq, strconv.FormatUint(uint64(state.userMax), 10)); err != nil {
			errList = append(errList, errors.Wrapf(err, "policy%d", cpu))
			continue
		}
		state.applied = state.userMax
	}
	return utilerrors.NewAggregate(errList)
}
