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

package idle

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"k8s.io/utils/clock"
)

// statCacheTTL lets the cpus of one domain share a /proc/stat read.
const statCacheTTL = 5 * time.Millisecond

// Source reads per-cpu idle time from /proc/stat. Idle counts idle and
// iowait time, the wall time comes from the injected clock.
type Source struct {
	fs    procfs.FS
	clock clock.PassiveClock

	mutex    sync.Mutex
	cached   map[int64]procfs.CPUStat
	cachedAt time.Time
}

func NewSource(procRoot string, clk clock.PassiveClock) (*Source, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open procfs at %s", procRoot)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Source{fs: fs, clock: clk}, nil
}

func (s *Source) IdleTimeAndNow(cpu int) (uint64, uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now()
	if s.cached == nil || now.Sub(s.cachedAt) > statCacheTTL || now.Before(s.cachedAt) {
		stat, err := s.fs.Stat()
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to read /proc/stat")
		}

		s.cached = make(map[int64]procfs.CPUStat, len(stat.CPU))
		for id, cpuStat := range stat.CPU {
			s.cached[int64(id)] = cpuStat
		}
		s.cachedAt = now
	}

	cpuStat, ok := s.cached[int64(cpu)]
	if !ok {
		return 0, 0, errors.Errorf("cpu %d not found in /proc/stat", cpu)
	}

	idle := uint64(math.Round((cpuStat.Idle + cpuStat.Iowait) * 1e6))
	return idle, uint64(now.UnixMicro()), nil
}
