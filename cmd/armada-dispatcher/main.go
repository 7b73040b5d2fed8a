/*
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
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/bwagner5/armada/pkg/dispatch"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/plans"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// fleetEnvVar names the capacity group when no --fleet flag is given,
// matching how the dispatcher is configured when deployed as a service.
const fleetEnvVar = "ASG_NAME"

type DispatcherOptions struct {
	Fleet        string
	IntervalDays int
	Once         bool
	Region       string
	Profile      string
	Verbose      bool
}

var (
	version = ""

	dispatcherOpts = DispatcherOptions{}
	rootCmd        = &cobra.Command{
		Use:     "armada-dispatcher",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), dispatcherOpts)
		},
	}
)

func main() {
	rootCmd.Flags().StringVar(&dispatcherOpts.Fleet, "fleet", os.Getenv(fleetEnvVar), "Capacity group to refresh, e.g. prod/web")
	rootCmd.Flags().IntVar(&dispatcherOpts.IntervalDays, "interval-days", plans.DefaultRefreshIntervalDays, "Days between refresh triggers")
	rootCmd.Flags().BoolVar(&dispatcherOpts.Once, "once", false, "Trigger a single refresh and exit")
	rootCmd.Flags().StringVarP(&dispatcherOpts.Region, "region", "r", "", "AWS Region")
	rootCmd.Flags().StringVarP(&dispatcherOpts.Profile, "profile", "p", "", "AWS CLI Profile")
	rootCmd.Flags().BoolVar(&dispatcherOpts.Verbose, "verbose", false, "Verbose output")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	lo.Must0(rootCmd.ExecuteContext(ctx))
}

func run(ctx context.Context, opts DispatcherOptions) error {
	ctx = logging.ToContext(ctx, logging.DefaultLogger(opts.Verbose))

	var cfgOptions []func(*config.LoadOptions) error
	if opts.Region != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		cfgOptions = append(cfgOptions, config.WithSharedConfigProfile(opts.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(capacitygroups.NewWatcher(autoscaling.NewFromConfig(awsCfg)), opts.Fleet, opts.IntervalDays)
	if err != nil {
		return err
	}

	if opts.Once {
		dispatcher.Tick(ctx)
		return nil
	}
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
