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
	"strings"
	"time"

	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

// writeFileIfChange writes data to the file joined by dir and file if it
// differs from the current content, returning the old content.
func writeFileIfChange(dir, file, data string) (bool, string, error) {
	path := filepath.Join(dir, file)
	oldData, err := os.ReadFile(path)
	if err != nil {
		return false, "", err
	}
	oldDataStr := strings.TrimSpace(string(oldData))

	if strings.TrimSpace(data) == oldDataStr {
		return false, oldDataStr, nil
	}
	if err = os.WriteFile(path, []byte(data), 0o644); err != nil {
		return false, oldDataStr, err
	}
	return true, oldDataStr, nil
}

// instrumentedWriteFileIfChange wraps writeFileIfChange with audit logging.
func instrumentedWriteFileIfChange(dir, file, data string) (bool, string, error) {
	startTime := time.Now()
	applied, oldData, err := writeFileIfChange(dir, file, data)
	if applied {
		general.InfofV(2, "[Sysfs] %s/%s: %s -> %s, cost %v", dir, file, oldData, data, time.Since(startTime))
	}
	return applied, oldData, err
}

func readKHz(dir, file string) (uint32, error) {
	val, err := general.ReadUint64FromFile(filepath.Join(dir, file))
	if err != nil {
		return 0, err
	}
	return uint32(val), nil
}
