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

// Package agent runs the cpufreq cooling engine of a node: it discovers the
// cpufreq policies, registers their cooling devices and feeds them thermal
// zone readings until stopped.
package agent

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/kubewharf/katalyst-cooling/pkg/config"
	coolingconfig "github.com/kubewharf/katalyst-cooling/pkg/config/cooling"
	"github.com/kubewharf/katalyst-cooling/pkg/config/platform"
	cooling "github.com/kubewharf/katalyst-cooling/pkg/cooling/cpufreq"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/metric"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/notifier"
	"github.com/kubewharf/katalyst-cooling/pkg/metrics"
	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
	"github.com/kubewharf/katalyst-cooling/pkg/util/machine"
	"github.com/kubewharf/katalyst-cooling/pkg/util/procfs/idle"
	sysfscpufreq "github.com/kubewharf/katalyst-cooling/pkg/util/sysfs/cpufreq"
	"github.com/kubewharf/katalyst-cooling/pkg/util/thermal"
)

const DefaultPollInterval = time.Second

type Agent struct {
	conf    *config.Configuration
	emitter metrics.MetricEmitter

	policies     []sysfscpufreq.PolicyInfo
	policyEvents *notifier.Notifier[cooling.PolicyChangeEvent]
	manager      *sysfscpufreq.Manager
	idle         cooling.IdleTimeSource
	online       *machine.OnlineChecker
	zone         cooling.ThermalZone

	// mutex guards registry and platform, both are replaced on reload
	mutex    sync.RWMutex
	registry *cooling.Registry
	platform *platform.Platform

	running *atomic.Bool
}

// NewAgent discovers the cpufreq policies under the configured sysfs root and
// registers a cooling device for each of them. In dry run the policies of the
// platform file stand in when sysfs exposes none.
func NewAgent(conf *config.Configuration, emitter metrics.MetricEmitter) (*Agent, error) {
	if emitter == nil {
		emitter = metrics.DummyMetrics{}
	}

	var plat *platform.Platform
	if conf.PlatformFile != "" {
		var err error
		if plat, err = platform.Load(conf.PlatformFile); err != nil {
			return nil, err
		}
	}

	policies, err := sysfscpufreq.DiscoverPolicies(conf.SysfsRoot)
	if err != nil || len(policies) == 0 {
		if !conf.DryRun || plat == nil {
			return nil, errors.Wrapf(cooling.ErrNotAvailable, "no cpufreq policy under %s: %v", conf.SysfsRoot, err)
		}
		general.Warningf("no cpufreq policy under %s (%v), using the platform policies", conf.SysfsRoot, err)
		policies = policiesFromPlatform(conf.SysfsRoot, plat)
	}

	a := &Agent{
		conf:         conf,
		emitter:      emitter,
		policies:     policies,
		policyEvents: notifier.New[cooling.PolicyChangeEvent](),
		online:       machine.NewOnlineChecker(conf.SysfsRoot),
		platform:     plat,
		running:      atomic.NewBool(false),
	}
	a.manager = sysfscpufreq.NewManager(policies, a.policyEvents, conf.SyncInterval, conf.DryRun)

	if source, err := idle.NewSource(conf.ProcfsRoot, clock.RealClock{}); err != nil {
		general.Warningf("idle time unavailable, power models disabled: %v", err)
	} else {
		a.idle = source
	}

	if conf.ThermalZoneID != coolingconfig.NoThermalZone {
		zone := thermal.NewSysfsZone(conf.SysfsRoot, conf.ThermalZoneID)
		general.Infof("following thermal zone %d (%s)", zone.ID(), zone.Type())
		a.zone = zone
	}

	registry, err := a.buildRegistry(plat)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	return a, nil
}

func policiesFromPlatform(sysRoot string, plat *platform.Platform) []sysfscpufreq.PolicyInfo {
	policies := make([]sysfscpufreq.PolicyInfo, 0, len(plat.Policies))
	for _, policy := range plat.Policies {
		freqs := plat.FrequencyTable(policy.CPU)
		if len(freqs) == 0 {
			continue
		}

		related := policy.RelatedCPUs
		if len(related) == 0 {
			related = []int{policy.CPU}
		}
		policies = append(policies, sysfscpufreq.PolicyInfo{
			CPU:         policy.CPU,
			RelatedCPUs: related,
			Frequencies: freqs,
			CpuinfoMax:  lo.Max(freqs),
			Dir:         sysfscpufreq.PolicyDir(sysRoot, policy.CPU),
		})
	}
	return policies
}

// buildRegistry registers a device per policy. Policies that fail to register
// are skipped unless none succeeds.
func (a *Agent) buildRegistry(plat *platform.Platform) (*cooling.Registry, error) {
	deps := cooling.RegistryDeps{
		Actuator:        a.manager,
		IdleTime:        a.idle,
		Online:          a.online,
		PolicyNotifier:  a.policyEvents,
		Emitter:         a.emitter,
		ColdTemperature: a.conf.ColdTemperature,
	}
	if plat != nil {
		deps.OperatingPoints = plat
		if deps.ColdTemperature <= 0 {
			deps.ColdTemperature = plat.ColdTemperature
		}
	}
	registry := cooling.NewRegistry(deps)

	var errList []error
	for _, info := range a.policies {
		var opts cooling.RegisterOptions
		if plat != nil && a.idle != nil {
			opts = plat.RegisterOptions(info.CPU)
		}

		dev, err := registry.Register(cooling.Policy{
			CPU:            info.CPU,
			RelatedCPUs:    info.RelatedCPUs,
			FrequencyTable: info.Frequencies,
		}, opts)
		if err != nil {
			general.Errorf("failed to register cooling device for policy%d: %v", info.CPU, err)
			errList = append(errList, err)
			continue
		}
		_, powerAware := dev.(cooling.PowerActor)
		general.Infof("registered %s for cpus %v, power aware %v", dev.Name(), info.RelatedCPUs, powerAware)
	}

	if registry.Len() == 0 && len(errList) > 0 {
		return nil, utilerrors.NewAggregate(errList)
	}
	return registry, nil
}

// Run drives the engine until ctx is done, then unregisters every device.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CAS(false, true) {
		return errors.New("cooling agent is already running")
	}
	defer a.running.Store(false)

	go a.manager.Run(ctx)

	if a.zone != nil {
		interval := a.conf.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		go wait.UntilWithContext(ctx, a.applyTemperature, interval)
	}

	if a.conf.ReloadOnPlatformChange && a.conf.PlatformFile != "" {
		reloadCh, err := general.RegisterFileEventWatcher(ctx.Done(), general.FileWatcherInfo{
			Filename: filepath.Base(a.conf.PlatformFile),
			Path:     []string{filepath.Dir(a.conf.PlatformFile)},
			Op:       fsnotify.Write | fsnotify.Create,
		})
		if err != nil {
			general.Errorf("platform reload disabled: %v", err)
		} else {
			go a.watchPlatform(ctx, reloadCh)
		}
	}

	<-ctx.Done()
	return a.stop()
}

func (a *Agent) watchPlatform(ctx context.Context, reloadCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reloadCh:
			if err := a.Reload(); err != nil {
				general.Errorf("failed to reload platform %s: %v", a.conf.PlatformFile, err)
				metric.EmitAgentErrorCode(a.emitter, metric.ErrorCodePlatformReloadFailure)
			}
		}
	}
}

// Reload rebuilds every cooling device from the platform file. The current
// devices stay in place when the new platform cannot be used.
func (a *Agent) Reload() error {
	plat, err := platform.Load(a.conf.PlatformFile)
	if err != nil {
		return err
	}

	registry, err := a.buildRegistry(plat)
	if err != nil {
		return err
	}

	a.mutex.Lock()
	old := a.registry
	a.registry, a.platform = registry, plat
	a.mutex.Unlock()

	for _, dev := range old.List() {
		old.Unregister(dev)
	}
	// drop the clamps of the old devices
	for _, info := range a.policies {
		if err := a.manager.UpdatePolicy(info.CPU); err != nil {
			general.Errorf("failed to update policy%d after reload: %v", info.CPU, err)
		}
	}
	general.Infof("reloaded platform %s, %d cooling devices", a.conf.PlatformFile, registry.Len())
	return nil
}

func (a *Agent) stop() error {
	registry := a.currentRegistry()
	for _, dev := range registry.List() {
		registry.Unregister(dev)
	}

	if !a.conf.RestoreOnExit {
		return nil
	}
	return a.manager.Restore()
}

func (a *Agent) applyTemperature(_ context.Context) {
	milliCelsius := a.zone.Temperature()
	devices := a.List()
	if len(devices) == 0 {
		return
	}
	// the temperature state is shared by the registry
	devices[0].SetTemperature(false, milliCelsius)

	for _, dev := range devices {
		actor, ok := dev.(cooling.PowerActor)
		if !ok {
			continue
		}
		power, err := actor.RequestedPower(a.zone)
		if err != nil {
			general.Warningf("failed to estimate power of %s: %v", dev.Name(), err)
			continue
		}
		general.InfofV(4, "%s draws %d mW at %d mC", dev.Name(), power, milliCelsius)
	}
}

func (a *Agent) currentRegistry() *cooling.Registry {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.registry
}

func (a *Agent) List() []cooling.CoolingDevice {
	return a.currentRegistry().List()
}

func (a *Agent) Get(id int) (cooling.CoolingDevice, bool) {
	return a.currentRegistry().Get(id)
}

func (a *Agent) TemperatureState() cooling.TemperatureState {
	return a.currentRegistry().TemperatureState()
}

func (a *Agent) Running() bool {
	return a.running.Load()
}
