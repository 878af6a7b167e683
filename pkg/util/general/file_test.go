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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFileEventWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "platform.yaml")
	require.NoError(t, os.WriteFile(target, []byte("a: 1\n"), 0o644))

	stop := make(chan struct{})
	defer close(stop)

	ch, err := RegisterFileEventWatcher(stop, FileWatcherInfo{
		Filename: "platform.yaml",
		Path:     []string{dir},
		Op:       fsnotify.Write | fsnotify.Create,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("a: 2\n"), 0o644))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a file event")
	}
}

func TestRegisterFileEventWatcherMissingPath(t *testing.T) {
	t.Parallel()

	stop := make(chan struct{})
	defer close(stop)

	_, err := RegisterFileEventWatcher(stop, FileWatcherInfo{
		Path: []string{filepath.Join(t.TempDir(), "not-there")},
		Op:   fsnotify.Write,
	})
	assert.Error(t, err)
}

func TestIsPathExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.True(t, IsPathExists(dir))
	assert.False(t, IsPathExists(filepath.Join(dir, "nope")))
}
