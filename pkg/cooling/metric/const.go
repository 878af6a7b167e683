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

const (
	metricCoolingLevel            = "cooling.cpufreq.level"
	metricCoolingClippedFrequency = "cooling.cpufreq.clipped_freq_khz"
	metricCoolingRequestedPower   = "cooling.cpufreq.requested_power_mw"
	metricCoolingCPULoad          = "cooling.cpufreq.cpu_load"
	metricCoolingPowerLimit       = "cooling.cpufreq.power_limit_mw"
	metricCoolingTargetFrequency  = "cooling.cpufreq.target_freq_khz"
	metricCoolingPolicyClamp      = "cooling.cpufreq.policy_clamp"
	metricCoolingDevices          = "cooling.cpufreq.devices"
	metricTemperatureState        = "cooling.temperature.cold"
	metricCoolingError            = "cooling.error"
	metricAgentError              = "cooling.agent.error"

	tagPolicy    = "policy"
	tagDevice    = "device"
	tagCPU       = "cpu"
	tagPowerKind = "kind"
	tagErrorCode = "error_code"

	powerKindTotal   = "total"
	powerKindStatic  = "static"
	powerKindDynamic = "dynamic"
)

const (
	ErrorCodeRegisterFailure       = 9606001
	ErrorCodeSetLevelFailure       = 9606002
	ErrorCodePolicyClampFailure    = 9606003
	ErrorCodeStaticPowerFailure    = 9606004
	ErrorCodePlatformReloadFailure = 9606005
)
