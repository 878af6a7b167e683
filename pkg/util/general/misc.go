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

package general

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ParseLinuxListFormat parses kernel cpu list strings such as "0-3,8,10-11"
// into a sorted slice.
func ParseLinuxListFormat(listStr string) ([]int64, error) {
	if strings.TrimSpace(listStr) == "" {
		return nil, nil
	}

	var list []int64
	for _, sec := range strings.Split(strings.TrimSpace(listStr), ",") {
		boundaries := strings.Split(sec, "-")
		switch len(boundaries) {
		case 1:
			val, err := strconv.ParseInt(boundaries[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			list = append(list, val)
		case 2:
			start, err := strconv.ParseInt(boundaries[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			end, err := strconv.ParseInt(boundaries[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			if start >= end {
				return nil, fmt.Errorf("invalid section %s in %s", sec, listStr)
			}
			for ; start <= end; start++ {
				list = append(list, start)
			}
		default:
			return nil, fmt.Errorf("%s contains strange section %s", listStr, sec)
		}
	}

	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list, nil
}

// ConvertLinuxListToString is the inverse of ParseLinuxListFormat.
func ConvertLinuxListToString(numbers []int) string {
	if len(numbers) == 0 {
		return ""
	}

	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	var result bytes.Buffer
	start, end := sorted[0], sorted[0]
	flush := func() {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		if start == end {
			result.WriteString(strconv.Itoa(start))
		} else {
			result.WriteString(fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, n := range sorted[1:] {
		if n == end+1 {
			end = n
			continue
		}
		flush()
		start, end = n, n
	}
	flush()
	return result.String()
}

// ReadUint64FromFile reads a single unsigned integer from sysfs-like files.
func ReadUint64FromFile(filePath string) (uint64, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

// ReadInt64FromFile reads a single signed integer, used for thermal zone temperatures.
func ReadInt64FromFile(filePath string) (int64, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}

// ReadUint64ListFromFile reads a whitespace separated list of unsigned integers,
// e.g. scaling_available_frequencies.
func ReadUint64ListFromFile(filePath string) ([]uint64, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(string(b))
	values := make([]uint64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q in %s", f, filePath)
		}
		values = append(values, v)
	}
	return values, nil
}
