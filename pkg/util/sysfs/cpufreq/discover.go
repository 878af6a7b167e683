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
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs/sysfs"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

const (
	PolicyBasePath = "devices/system/cpu/cpufreq"
	cpuBasePath    = "devices/system/cpu"

	fileScalingAvailableFrequencies = "scaling_available_frequencies"
	fileScalingMaxFreq              = "scaling_max_freq"
	fileScalingCurFreq              = "scaling_cur_freq"
)

// PolicyInfo is a cpufreq policy found under sysfs. Frequencies are kHz.
type PolicyInfo struct {
	CPU         int
	RelatedCPUs []int
	Frequencies []uint32
	CpuinfoMax  uint32
	ScalingMax  uint32
	Governor    string
	Driver      string
	Dir         string
}

// PolicyDir returns the sysfs directory of the policy managed through cpu.
func PolicyDir(sysRoot string, cpu int) string {
	return filepath.Join(sysRoot, PolicyBasePath, "policy"+strconv.Itoa(cpu))
}

// DiscoverPolicies lists the cpufreq policies under sysRoot, ordered by cpu.
// A policy is managed through its lowest related cpu; policies without related
// cpus or frequency table are skipped.
func DiscoverPolicies(sysRoot string) ([]PolicyInfo, error) {
	fs, err := sysfs.NewFS(sysRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sysfs at %s", sysRoot)
	}

	stats, err := fs.SystemCpufreq()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cpufreq policies")
	}

	seen := sets.NewInt()
	policies := make([]PolicyInfo, 0, len(stats))
	for _, stat := range stats {
		// cpus without cpufreq support are reported as empty entries
		if stat.Name == "" {
			continue
		}

		related, err := parseCPUList(stat.RelatedCpus)
		if err != nil || len(related) == 0 {
			general.Warningf("skip cpufreq %s: invalid related cpus %q: %v", stat.Name, stat.RelatedCpus, err)
			continue
		}

		cpu := int(related[0])
		if seen.Has(cpu) {
			continue
		}
		seen.Insert(cpu)

		dir := PolicyDir(sysRoot, cpu)
		if !general.IsPathExists(dir) {
			dir = filepath.Join(sysRoot, cpuBasePath, "cpu"+strconv.Itoa(cpu), "cpufreq")
		}

		available, err := general.ReadUint64ListFromFile(filepath.Join(dir, fileScalingAvailableFrequencies))
		if err != nil || len(available) == 0 {
			general.Warningf("skip policy%d: no frequency table: %v", cpu, err)
			continue
		}

		info := PolicyInfo{
			CPU:         cpu,
			RelatedCPUs: make([]int, 0, len(related)),
			Frequencies: make([]uint32, 0, len(available)),
			Governor:    stat.Governor,
			Driver:      stat.Driver,
			Dir:         dir,
		}
		for _, c := range related {
			info.RelatedCPUs = append(info.RelatedCPUs, int(c))
		}
		for _, freq := range available {
			info.Frequencies = append(info.Frequencies, uint32(freq))
		}
		if stat.CpuinfoMaximumFrequency != nil {
			info.CpuinfoMax = uint32(*stat.CpuinfoMaximumFrequency)
		}
		if stat.ScalingMaximumFrequency != nil {
			info.ScalingMax = uint32(*stat.ScalingMaximumFrequency)
		}

		general.InfofV(2, "found policy%d for cpus %s, %d frequencies, governor %s",
			cpu, general.ConvertLinuxListToString(info.RelatedCPUs), len(info.Frequencies), info.Governor)
		policies = append(policies, info)
	}

	sort.Slice(policies, func(i, j int) bool {
		return policies[i].CPU < policies[j].CPU
	})
	return policies, nil
}

// parseCPUList accepts both the space separated related_cpus format and the
// kernel list format.
func parseCPUList(list string) ([]int64, error) {
	return general.ParseLinuxListFormat(strings.Join(strings.Fields(list), ","))
}
