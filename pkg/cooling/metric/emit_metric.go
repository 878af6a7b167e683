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

package metric

import (
	"strconv"

	"github.com/kubewharf/katalyst-cooling/pkg/metrics"
)

// DeviceTags are the common tags of every metric a cooling device emits.
func DeviceTags(name string, policyCPU int) []metrics.MetricTag {
	return metrics.ConvertMapToTags(map[string]string{
		tagDevice: name,
		tagPolicy: strconv.Itoa(policyCPU),
	})
}

func EmitCoolingLevel(emitter metrics.MetricEmitter, level int, clippedKHz uint32) {
	_ = emitter.StoreInt64(metricCoolingLevel, int64(level), metrics.MetricTypeNameRaw)
	_ = emitter.StoreInt64(metricCoolingClippedFrequency, int64(clippedKHz), metrics.MetricTypeNameRaw)
}

// EmitRequestedPower reports the power split of a request together with the
// load of every cpu it was computed from.
func EmitRequestedPower(emitter metrics.MetricEmitter, cpus []int, loads []uint32, static, dynamic uint32) {
	for i, cpu := range cpus {
		if i >= len(loads) {
			break
		}
		_ = emitter.StoreInt64(metricCoolingCPULoad, int64(loads[i]), metrics.MetricTypeNameRaw,
			metrics.MetricTag{Key: tagCPU, Val: strconv.Itoa(cpu)})
	}

	for kind, val := range map[string]uint32{
		powerKindTotal:   static + dynamic,
		powerKindStatic:  static,
		powerKindDynamic: dynamic,
	} {
		_ = emitter.StoreInt64(metricCoolingRequestedPower, int64(val), metrics.MetricTypeNameRaw,
			metrics.MetricTag{Key: tagPowerKind, Val: kind})
	}
}

func EmitPowerLimit(emitter metrics.MetricEmitter, power uint32, targetKHz uint32) {
	_ = emitter.StoreInt64(metricCoolingPowerLimit, int64(power), metrics.MetricTypeNameRaw)
	_ = emitter.StoreInt64(metricCoolingTargetFrequency, int64(targetKHz), metrics.MetricTypeNameRaw)
}

func EmitPolicyClamp(emitter metrics.MetricEmitter) {
	_ = emitter.StoreInt64(metricCoolingPolicyClamp, 1, metrics.MetricTypeNameCount)
}

func EmitDeviceCount(emitter metrics.MetricEmitter, count int) {
	_ = emitter.StoreInt64(metricCoolingDevices, int64(count), metrics.MetricTypeNameRaw)
}

func EmitTemperatureState(emitter metrics.MetricEmitter, cold bool) {
	val := int64(0)
	if cold {
		val = 1
	}
	_ = emitter.StoreInt64(metricTemperatureState, val, metrics.MetricTypeNameRaw)
}

func EmitErrorCode(emitter metrics.MetricEmitter, errorCode int) {
	_ = emitter.StoreInt64(metricCoolingError, 1, metrics.MetricTypeNameCount,
		metrics.ConvertMapToTags(map[string]string{
			tagErrorCode: strconv.Itoa(errorCode),
		})...,
	)
}

// EmitAgentErrorCode counts errors not bound to a single cooling device.
func EmitAgentErrorCode(emitter metrics.MetricEmitter, errorCode int) {
	_ = emitter.StoreInt64(metricAgentError, 1, metrics.MetricTypeNameCount,
		metrics.MetricTag{Key: tagErrorCode, Val: strconv.Itoa(errorCode)})
}
