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

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsEmitter maps each emitted key onto a prometheus vector.
// Raw items become gauges that are Set, count items become counters and
// up-down items become gauges that are Added to.
type PrometheusMetricsEmitter struct {
	namespace string
	registry  *prometheus.Registry

	mutex      sync.Mutex
	collectors map[string]*promCollector
}

type promCollector struct {
	emitType   MetricTypeName
	labelNames []string
	gauge      *prometheus.GaugeVec
	counter    *prometheus.CounterVec
}

var _ MetricEmitter = &PrometheusMetricsEmitter{}

func NewPrometheusMetricsEmitter(namespace string) *PrometheusMetricsEmitter {
	return &PrometheusMetricsEmitter{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		collectors: make(map[string]*promCollector),
	}
}

// Handler serves the collected metrics in the prometheus exposition format.
func (p *PrometheusMetricsEmitter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusMetricsEmitter) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetricsEmitter) StoreInt64(key string, val int64, emitType MetricTypeName, tags ...MetricTag) error {
	return p.store(key, float64(val), emitType, tags)
}

func (p *PrometheusMetricsEmitter) StoreFloat64(key string, val float64, emitType MetricTypeName, tags ...MetricTag) error {
	return p.store(key, val, emitType, tags)
}

func (p *PrometheusMetricsEmitter) WithTags(unit string, commonTags ...MetricTag) MetricEmitter {
	newMetricTagWrapper := &MetricTagWrapper{MetricEmitter: p}
	return newMetricTagWrapper.WithTags(unit, commonTags...)
}

func (p *PrometheusMetricsEmitter) Run(_ context.Context) {}

func (p *PrometheusMetricsEmitter) store(key string, val float64, emitType MetricTypeName, tags []MetricTag) error {
	labels := make(prometheus.Labels, len(tags))
	for _, tag := range tags {
		labels[sanitizeName(tag.Key)] = tag.Val
	}
	labelNames := make([]string, 0, len(labels))
	for name := range labels {
		labelNames = append(labelNames, name)
	}
	sort.Strings(labelNames)

	c, err := p.getOrRegister(sanitizeName(key), emitType, labelNames)
	if err != nil {
		return err
	}

	switch emitType {
	case MetricTypeNameRaw:
		c.gauge.With(labels).Set(val)
	case MetricTypeNameUpDownCount:
		c.gauge.With(labels).Add(val)
	case MetricTypeNameCount:
		if val < 0 {
			return fmt.Errorf("counter %v cannot decrease by %v", key, val)
		}
		c.counter.With(labels).Add(val)
	default:
		return fmt.Errorf("unknown metric type %v", emitType)
	}
	return nil
}

func (p *PrometheusMetricsEmitter) getOrRegister(name string, emitType MetricTypeName, labelNames []string) (*promCollector, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if c, ok := p.collectors[name]; ok {
		if c.emitType != emitType || strings.Join(c.labelNames, ",") != strings.Join(labelNames, ",") {
			return nil, fmt.Errorf("metric %v already registered as %v with labels %v", name, c.emitType, c.labelNames)
		}
		return c, nil
	}

	c := &promCollector{emitType: emitType, labelNames: labelNames}
	var collector prometheus.Collector
	switch emitType {
	case MetricTypeNameCount:
		c.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      name,
			Help:      name,
		}, labelNames)
		collector = c.counter
	case MetricTypeNameRaw, MetricTypeNameUpDownCount:
		c.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      name,
			Help:      name,
		}, labelNames)
		collector = c.gauge
	default:
		return nil, fmt.Errorf("unknown metric type %v", emitType)
	}

	if err := p.registry.Register(collector); err != nil {
		return nil, errors.Wrapf(err, "failed to register metric %v", name)
	}
	p.collectors[name] = c
	return c, nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
