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

package options

import (
	"time"

	"github.com/pkg/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/kubewharf/katalyst-cooling/pkg/config/cooling"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/agent"
	sysfscpufreq "github.com/kubewharf/katalyst-cooling/pkg/util/sysfs/cpufreq"
)

// CoolingOptions holds the configurations of the cpufreq cooling engine.
type CoolingOptions struct {
	SysfsRoot    string
	ProcfsRoot   string
	PlatformFile string

	PollInterval time.Duration
	SyncInterval time.Duration

	ThermalZoneID   int
	ColdTemperature int

	ReloadOnPlatformChange bool
	RestoreOnExit          bool
}

func NewCoolingOptions() *CoolingOptions {
	return &CoolingOptions{
		SysfsRoot:              "/sys",
		ProcfsRoot:             "/proc",
		PollInterval:           agent.DefaultPollInterval,
		SyncInterval:           sysfscpufreq.DefaultSyncInterval,
		ThermalZoneID:          cooling.NoThermalZone,
		ReloadOnPlatformChange: true,
		RestoreOnExit:          true,
	}
}

// AddFlags adds flags  to the specified FlagSet.
func (o *CoolingOptions) AddFlags(fss *cliflag.NamedFlagSets) {
	fs := fss.FlagSet("cooling")

	fs.StringVar(&o.SysfsRoot, "sysfs-root", o.SysfsRoot, "the mount point of sysfs")
	fs.StringVar(&o.ProcfsRoot, "procfs-root", o.ProcfsRoot, "the mount point of procfs")
	fs.StringVar(&o.PlatformFile, "platform-file", o.PlatformFile,
		"the yaml file describing operating points, power coefficients and static power tables, "+
			"cooling devices have no power model without it")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval,
		"the interval to read the thermal zone and refresh the power estimations")
	fs.DurationVar(&o.SyncInterval, "sync-interval", o.SyncInterval,
		"the interval to detect scaling_max_freq written by others")
	fs.IntVar(&o.ThermalZoneID, "thermal-zone", o.ThermalZoneID,
		"the thermal zone feeding the temperature state, -1 disables it")
	fs.IntVar(&o.ColdTemperature, "cold-temperature", o.ColdTemperature,
		"the threshold in millicelsius below which the node is cold, 0 uses the platform or built-in value")
	fs.BoolVar(&o.ReloadOnPlatformChange, "reload-platform", o.ReloadOnPlatformChange,
		"rebuild the cooling devices when the platform file changes")
	fs.BoolVar(&o.RestoreOnExit, "restore-on-exit", o.RestoreOnExit,
		"write the user frequency ceilings back on exit")
}

// ApplyTo fills up config with options
func (o *CoolingOptions) ApplyTo(c *cooling.CoolingConfiguration) error {
	if o.PollInterval <= 0 || o.SyncInterval <= 0 {
		return errors.Errorf("poll interval %v and sync interval %v must be positive", o.PollInterval, o.SyncInterval)
	}
	if o.ThermalZoneID < cooling.NoThermalZone {
		return errors.Errorf("invalid thermal zone %d", o.ThermalZoneID)
	}
	if o.ColdTemperature < 0 {
		return errors.Errorf("invalid cold temperature %d", o.ColdTemperature)
	}

	c.SysfsRoot = o.SysfsRoot
	c.ProcfsRoot = o.ProcfsRoot
	c.PlatformFile = o.PlatformFile
	c.PollInterval = o.PollInterval
	c.SyncInterval = o.SyncInterval
	c.ThermalZoneID = o.ThermalZoneID
	c.ColdTemperature = o.ColdTemperature
	c.ReloadOnPlatformChange = o.ReloadOnPlatformChange
	c.RestoreOnExit = o.RestoreOnExit
	return nil
}
