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

// Package ida hands out small integer ids, always the lowest one free,
// in the way the kernel ida does for device names.
package ida

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// DefaultMax bounds the id space when no explicit limit is given.
const DefaultMax = 1 << 16

var ErrExhausted = errors.New("id space exhausted")

type Allocator struct {
	mutex sync.Mutex
	max   int
	used  sets.Int
}

// NewAllocator returns an allocator serving ids in [0, max). A non-positive
// max falls back to DefaultMax.
func NewAllocator(max int) *Allocator {
	if max <= 0 {
		max = DefaultMax
	}
	return &Allocator{
		max:  max,
		used: sets.NewInt(),
	}
}

// Get returns the smallest id not currently in use.
func (a *Allocator) Get() (int, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for id := 0; id < a.max; id++ {
		if !a.used.Has(id) {
			a.used.Insert(id)
			return id, nil
		}
	}
	return -1, errors.Wrapf(ErrExhausted, "all %d ids in use", a.max)
}

// Remove makes id available again. Removing an unknown id is a no-op.
func (a *Allocator) Remove(id int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.used.Delete(id)
}

func (a *Allocator) InUse(id int) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.used.Has(id)
}
