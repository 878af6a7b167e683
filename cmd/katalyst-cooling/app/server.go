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

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/klog/v2"

	"github.com/kubewharf/katalyst-cooling/cmd/katalyst-cooling/app/options"
	"github.com/kubewharf/katalyst-cooling/pkg/config"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/agent"
	"github.com/kubewharf/katalyst-cooling/pkg/cooling/server"
	"github.com/kubewharf/katalyst-cooling/pkg/metrics"
	"github.com/kubewharf/katalyst-cooling/pkg/util/process"
)

const metricsNamespace = "katalyst_cooling"

// NewCoolingCommand creates a *cobra.Command object with default parameters
func NewCoolingCommand() *cobra.Command {
	opt := options.NewOptions()
	fss := &cliflag.NamedFlagSets{}
	opt.AddFlags(fss)

	cmd := &cobra.Command{
		Use:   "katalyst-cooling",
		Short: "thermal aware cpufreq cooling devices",
		Long: `katalyst-cooling exposes every cpufreq policy of the node as a cooling device,
clamping the policy maximum frequency to the cooling level set on it and estimating
the power drawn by the policy when a platform file describes its operating points.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opt.Config()
			if err != nil {
				return fmt.Errorf("parse config error: %v", err)
			}
			return Run(process.SetupSignalHandler(), conf)
		},
		Args: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		},
	}

	fs := cmd.Flags()
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, *fss, 80)
	return cmd
}

// Run starts the cooling agent and, if configured, its diagnostics endpoint
// until ctx is done.
func Run(ctx context.Context, conf *config.Configuration) error {
	emitter := metrics.NewPrometheusMetricsEmitter(metricsNamespace)

	coolingAgent, err := agent.NewAgent(conf, emitter)
	if err != nil {
		return err
	}

	wg := sync.WaitGroup{}
	if conf.GenericEndpoint != "" {
		handler := process.NewHTTPHandler(conf.GenericEndpointHandleChains,
			conf.GenericEndpointRateLimit, conf.GenericEndpointRateBurst, emitter)
		srv := server.NewServer(conf.GenericEndpoint, coolingAgent, emitter.Handler(), handler, conf.DryRun)

		wg.Add(2)
		go func() {
			defer wg.Done()
			handler.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				klog.Errorf("diagnostics server stopped: %v", err)
			}
		}()
	}

	err = coolingAgent.Run(ctx)
	wg.Wait()
	klog.Infof("katalyst-cooling stopped")
	return err
}
