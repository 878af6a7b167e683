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

// Package notifier delivers events to named subscribers. Subscribing returns
// a Subscription whose Cancel is the only way to stop delivery, so callers
// that own a subscription can tie its lifetime to their own state.
package notifier

import (
	"sort"
	"sync"

	"github.com/kubewharf/katalyst-cooling/pkg/util/general"
)

type HandlerFunc[E any] func(event E)

type Subscription interface {
	// Cancel stops delivery to the subscriber; calling it more than once is harmless.
	Cancel()
}

type subscriber[E any] struct {
	seq     uint64
	name    string
	handler HandlerFunc[E]
}

type Notifier[E any] struct {
	mutex       sync.RWMutex
	nextSeq     uint64
	subscribers map[uint64]*subscriber[E]
}

func New[E any]() *Notifier[E] {
	return &Notifier[E]{
		subscribers: make(map[uint64]*subscriber[E]),
	}
}

// Subscribe registers handler under name. Several subscriptions may share a name.
func (n *Notifier[E]) Subscribe(name string, handler HandlerFunc[E]) Subscription {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.nextSeq++
	sub := &subscriber[E]{seq: n.nextSeq, name: name, handler: handler}
	n.subscribers[sub.seq] = sub
	general.InfofV(4, "subscriber %v registered", name)

	return &subscription[E]{notifier: n, seq: sub.seq}
}

// Notify delivers event to every subscriber in subscription order. Handlers
// run on the caller's goroutine after the notifier lock is released, so a
// handler may subscribe, cancel or take locks of its own.
func (n *Notifier[E]) Notify(event E) {
	n.mutex.RLock()
	subs := make([]*subscriber[E], 0, len(n.subscribers))
	for _, sub := range n.subscribers {
		subs = append(subs, sub)
	}
	n.mutex.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	for _, sub := range subs {
		sub.handler(event)
	}
}

func (n *Notifier[E]) Len() int {
	n.mutex.RLock()
	defer n.mutex.RUnlock()

	return len(n.subscribers)
}

func (n *Notifier[E]) IsEmpty() bool {
	return n.Len() == 0
}

func (n *Notifier[E]) remove(seq uint64) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if sub, ok := n.subscribers[seq]; ok {
		general.InfofV(4, "subscriber %v cancelled", sub.name)
		delete(n.subscribers, seq)
	}
}

type subscription[E any] struct {
	once     sync.Once
	notifier *Notifier[E]
	seq      uint64
}

func (s *subscription[E]) Cancel() {
	s.once.Do(func() {
		s.notifier.remove(s.seq)
	})
}
