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

package options

import (
	"flag"
	"os"

	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/klog/v2"

	"github.com/kubewharf/katalyst-cooling/pkg/config/generic"
	"github.com/kubewharf/katalyst-cooling/pkg/util/process"
)

// GenericOptions holds the configurations for multi components.
type GenericOptions struct {
	DryRun bool

	GenericEndpoint             string
	GenericEndpointHandleChains []string
	GenericEndpointRateLimit    float64
	GenericEndpointRateBurst    int

	logsOptions *LogsOptions
}

func NewGenericOptions() *GenericOptions {
	return &GenericOptions{
		DryRun:                   false,
		GenericEndpoint:          ":9326",
		GenericEndpointRateLimit: 10,
		GenericEndpointRateBurst: 20,
		logsOptions:              NewLogsOptions(),
		GenericEndpointHandleChains: []string{
			process.HTTPChainRateLimiter, process.HTTPChainMonitor,
		},
	}
}

// AddFlags adds flags  to the specified FlagSet.
func (o *GenericOptions) AddFlags(fss *cliflag.NamedFlagSets) {
	fs := fss.FlagSet("generic")

	local := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	klog.InitFlags(local)
	local.VisitAll(func(fl *flag.Flag) {
		fs.AddGoFlag(fl)
	})

	fs.BoolVar(&o.DryRun, "dry-run", o.DryRun, "A bool to enable and disable dry-run.")

	fs.StringVar(&o.GenericEndpoint, "generic-endpoint", o.GenericEndpoint,
		"the endpoint of generic purpose, which will serve diagnostics and prometheus metrics, empty to disable")
	fs.StringSliceVar(&o.GenericEndpointHandleChains, "generic-handler-chains", o.GenericEndpointHandleChains,
		"this flag defines the handler chains that should be enabled")
	fs.Float64Var(&o.GenericEndpointRateLimit, "generic-endpoint-rate-limit", o.GenericEndpointRateLimit,
		"requests per second allowed for each client of the generic endpoint")
	fs.IntVar(&o.GenericEndpointRateBurst, "generic-endpoint-rate-burst", o.GenericEndpointRateBurst,
		"burst of requests allowed for each client of the generic endpoint")

	o.logsOptions.AddFlags(fs)
}

// ApplyTo fills up config with options
func (o *GenericOptions) ApplyTo(c *generic.GenericConfiguration) error {
	c.DryRun = o.DryRun

	c.GenericEndpoint = o.GenericEndpoint
	c.GenericEndpointHandleChains = o.GenericEndpointHandleChains
	c.GenericEndpointRateLimit = rate.Limit(o.GenericEndpointRateLimit)
	c.GenericEndpointRateBurst = o.GenericEndpointRateBurst

	errList := make([]error, 0, 1)
	errList = append(errList, o.logsOptions.ApplyTo())

	return errors.NewAggregate(errList)
}
