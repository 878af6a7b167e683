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

package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier_IsEmpty(t *testing.T) {
	t.Parallel()

	n := New[int]()
	assert.Truef(t, n.IsEmpty(), "initial notifier is empty")

	sub := n.Subscribe("a", func(int) {})
	assert.Falsef(t, n.IsEmpty(), "has 1 registered, expecting not empty")

	sub.Cancel()
	assert.Truef(t, n.IsEmpty(), "sub cancelled, expecting empty again")

	sub.Cancel()
	assert.Equal(t, 0, n.Len(), "double cancel is harmless")
}

func TestNotifier_NotifyOrder(t *testing.T) {
	t.Parallel()

	n := New[string]()
	var got []string
	n.Subscribe("first", func(e string) { got = append(got, "first:"+e) })
	second := n.Subscribe("second", func(e string) { got = append(got, "second:"+e) })

	n.Notify("x")
	second.Cancel()
	n.Notify("y")

	assert.Equal(t, []string{"first:x", "second:x", "first:y"}, got)
}

func TestNotifier_HandlerMayReenter(t *testing.T) {
	t.Parallel()

	n := New[int]()
	var sub Subscription
	calls := 0
	sub = n.Subscribe("self-cancel", func(int) {
		calls++
		sub.Cancel()
		n.Subscribe("late", func(int) {})
	})

	n.Notify(1)
	n.Notify(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n.Len(), "only the subscriber added during the first delivery remains")
}
