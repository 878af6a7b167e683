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
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/metric"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/notifier"
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

type TemperatureState int32

const (
	TemperatureNormal TemperatureState = iota
	TemperatureCold
)

func (s TemperatureState) String() string {
	switch s {
	case TemperatureNormal:
		return "normal"
	case TemperatureCold:
		return "cold"
	default:
		return "unknown"
	}
}

// TemperatureStateEvent is broadcast on every temperature state transition.
// On is 1 while cold.
type TemperatureStateEvent struct {
	State TemperatureState
	On    int
}

// SubscribeTemperatureState registers handler for temperature state transitions.
func (r *Registry) SubscribeTemperatureState(name string, handler notifier.HandlerFunc[TemperatureStateEvent]) notifier.Subscription {
	return r.temperatureNotifier.Subscribe(name, handler)
}

// TemperatureState returns the current registry wide temperature state.
func (r *Registry) TemperatureState() TemperatureState {
	return TemperatureState(r.temperatureState.Load())
}

func (r *Registry) ColdTemperature() int {
	return r.coldTemperature
}

func (r *Registry) setTemperature(suspended bool, milliCelsius int) {
	state := TemperatureNormal
	if suspended || milliCelsius < r.coldTemperature {
		state = TemperatureCold
	}

	if prev := TemperatureState(r.temperatureState.Swap(int32(state))); prev == state {
		return
	}

	event := TemperatureStateEvent{State: state}
	if state == TemperatureCold {
		event.On = 1
	}

	general.Infof("temperature state -> %v (suspended %v, %d mC)", state, suspended, milliCelsius)
	metric.EmitTemperatureState(r.emitter, state == TemperatureCold)
	r.temperatureNotifier.Notify(event)
}
