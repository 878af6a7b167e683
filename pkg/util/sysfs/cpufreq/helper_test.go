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
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePolicy struct {
	cpu         int
	related     string
	frequencies string
	max         uint32
	cur         uint32
}

// makeSysfs lays out cpufreq policies the way the kernel does, with every
// cpuN/cpufreq linking to its policy directory.
func makeSysfs(t *testing.T, policies ...fakePolicy) string {
	t.Helper()

	root := t.TempDir()
	for _, p := range policies {
		dir := PolicyDir(root, p.cpu)
		require.NoError(t, os.MkdirAll(dir, 0o755))

		files := map[string]string{
			"related_cpus":                p.related,
			"cpuinfo_max_freq":            strconv.FormatUint(uint64(p.max), 10),
			"cpuinfo_min_freq":            "400000",
			"cpuinfo_cur_freq":            strconv.FormatUint(uint64(p.cur), 10),
			"cpuinfo_transition_latency":  "0",
			"scaling_max_freq":            strconv.FormatUint(uint64(p.max), 10),
			"scaling_min_freq":            "400000",
			"scaling_cur_freq":            strconv.FormatUint(uint64(p.cur), 10),
			"scaling_driver":              "cppc_cpufreq",
			"scaling_governor":            "schedutil",
			"scaling_available_governors": "performance schedutil",
			"scaling_setspeed":            "<unsupported>",
		}
		if p.frequencies != "" {
			files[fileScalingAvailableFrequencies] = p.frequencies
		}
		for name, content := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0o644))
		}

		related, err := parseCPUList(p.related)
		require.NoError(t, err)
		for _, cpu := range related {
			cpuDir := filepath.Join(root, cpuBasePath, "cpu"+strconv.FormatInt(cpu, 10))
			require.NoError(t, os.MkdirAll(cpuDir, 0o755))
			require.NoError(t, os.Symlink(filepath.Join("..", "cpufreq", "policy"+strconv.Itoa(p.cpu)),
				filepath.Join(cpuDir, "cpufreq")))
		}
	}
	return root
}

func readPolicyFile(t *testing.T, root string, cpu int, name string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(PolicyDir(root, cpu), name))
	require.NoError(t, err)
	return string(b)
}

func writePolicyFile(t *testing.T, root string, cpu int, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(PolicyDir(root, cpu), name), []byte(content), 0o644))
}
