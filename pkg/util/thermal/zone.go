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

package thermal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/atomic"

	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

const thermalClassPath = "class/thermal"

// SysfsZone reads the temperature of /sys/class/thermal/thermal_zoneN.
type SysfsZone struct {
	id   int
	dir  string
	last *atomic.Int64
}

func NewSysfsZone(sysRoot string, id int) *SysfsZone {
	return &SysfsZone{
		id:   id,
		dir:  filepath.Join(sysRoot, thermalClassPath, fmt.Sprintf("thermal_zone%d", id)),
		last: atomic.NewInt64(0),
	}
}

func (z *SysfsZone) ID() int {
	return z.id
}

// Temperature returns the zone temperature in milli-Celsius, or the last
// successful reading if the zone cannot be read.
func (z *SysfsZone) Temperature() int {
	temp, err := general.ReadInt64FromFile(filepath.Join(z.dir, "temp"))
	if err != nil {
		general.Warningf("failed to read temperature of thermal_zone%d: %v", z.id, err)
		return int(z.last.Load())
	}
	z.last.Store(temp)
	return int(temp)
}

// Type returns the zone type, e.g. x86_pkg_temp.
func (z *SysfsZone) Type() string {
	b, err := os.ReadFile(filepath.Join(z.dir, "type"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// StaticZone is a zone with a settable temperature, for dry runs.
type StaticZone struct {
	id          int
	temperature *atomic.Int64
}

func NewStaticZone(id, milliCelsius int) *StaticZone {
	return &StaticZone{id: id, temperature: atomic.NewInt64(int64(milliCelsius))}
}

func (z *StaticZone) ID() int {
	return z.id
}

func (z *StaticZone) Temperature() int {
	return int(z.temperature.Load())
}

func (z *StaticZone) Set(milliCelsius int) {
	z.temperature.Store(int64(milliCelsius))
}
