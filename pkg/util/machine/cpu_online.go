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

package machine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

const cpuSysDir = "devices/system/cpu"

// GetCPUOnlineStatus reads the online state of cpuID under sysRoot.
func GetCPUOnlineStatus(sysRoot string, cpuID int) (bool, error) {
	// /sys/devices/system/cpu/cpu0/online not exists, because cpu0 cannot be offline
	if cpuID == 0 {
		return true, nil
	}

	cpuDir := filepath.Join(sysRoot, cpuSysDir, fmt.Sprintf("cpu%d", cpuID))
	if _, err := os.Stat(cpuDir); err != nil && os.IsNotExist(err) {
		return false, fmt.Errorf("cpu %d not exists", cpuID)
	}

	cpuOnlineFile := filepath.Join(cpuDir, "online")
	// /sys/devices/system/cpu/cpuX/online not exists in some vm
	if _, err := os.Stat(cpuOnlineFile); err != nil && os.IsNotExist(err) {
		return true, nil
	}

	b, err := os.ReadFile(cpuOnlineFile)
	if err != nil {
		return false, err
	}

	online, err := strconv.Atoi(strings.TrimRight(string(b), "\n"))
	if err != nil {
		return false, err
	}
	return online == 1, nil
}

// OnlineChecker answers cpu online queries from sysfs.
type OnlineChecker struct {
	sysRoot string
}

func NewOnlineChecker(sysRoot string) *OnlineChecker {
	return &OnlineChecker{sysRoot: sysRoot}
}

// IsOnline reports unknown or unreadable cpus as offline.
func (c *OnlineChecker) IsOnline(cpu int) bool {
	online, err := GetCPUOnlineStatus(c.sysRoot, cpu)
	if err != nil {
		general.InfofV(4, "failed to get online status of cpu %d: %v", cpu, err)
		return false
	}
	return online
}

// OnlineCPUs lists the online cpus among cpus.
func (c *OnlineChecker) OnlineCPUs(cpus []int) []int {
	return lo.Filter(cpus, func(cpu int, _ int) bool {
		return c.IsOnline(cpu)
	})
}
