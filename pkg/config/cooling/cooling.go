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

package cooling

import "time"

const NoThermalZone = -1

// CoolingConfiguration stores the configurations of the cpufreq cooling engine.
type CoolingConfiguration struct {
	SysfsRoot    string
	ProcfsRoot   string
	PlatformFile string

	// PollInterval is how often the thermal zone is read and applied.
	PollInterval time.Duration
	// SyncInterval is how often scaling_max_freq is checked for external writes.
	SyncInterval time.Duration

	// ThermalZoneID selects the zone fed to SetTemperature, NoThermalZone disables it.
	ThermalZoneID int
	// ColdTemperature overrides the platform threshold when positive.
	ColdTemperature int

	ReloadOnPlatformChange bool
	// RestoreOnExit writes the user ceilings back when the engine stops.
	RestoreOnExit bool
}

func NewCoolingConfiguration() *CoolingConfiguration {
	return &CoolingConfiguration{
		ThermalZoneID: NoThermalZone,
	}
}
