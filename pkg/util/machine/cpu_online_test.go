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
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOnlineChecker(t *testing.T) {
	Convey("Given a sysfs with cpus in different online states", t, func() {
		root := t.TempDir()
		for cpu, online := range map[string]string{
			"cpu0": "",
			"cpu1": "1\n",
			"cpu2": "0\n",
			"cpu3": "",
			"cpu4": "x",
		} {
			dir := filepath.Join(root, cpuSysDir, cpu)
			So(os.MkdirAll(dir, 0o755), ShouldBeNil)
			if online != "" {
				So(os.WriteFile(filepath.Join(dir, "online"), []byte(online), 0o644), ShouldBeNil)
			}
		}
		checker := NewOnlineChecker(root)

		Convey("cpu0 is always online", func() {
			So(checker.IsOnline(0), ShouldBeTrue)
		})

		Convey("the online file decides", func() {
			So(checker.IsOnline(1), ShouldBeTrue)
			So(checker.IsOnline(2), ShouldBeFalse)
		})

		Convey("a missing online file means online", func() {
			So(checker.IsOnline(3), ShouldBeTrue)
		})

		Convey("unknown or malformed cpus are offline", func() {
			So(checker.IsOnline(4), ShouldBeFalse)
			So(checker.IsOnline(9), ShouldBeFalse)

			_, err := GetCPUOnlineStatus(root, 9)
			So(err, ShouldNotBeNil)
		})

		Convey("online cpus are filtered in order", func() {
			So(checker.OnlineCPUs([]int{3, 2, 1, 0}), ShouldResemble, []int{3, 1, 0})
		})
	})
}
