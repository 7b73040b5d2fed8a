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
	"fmt"
	"log/slog"
	"os"

	"github.com/bwagner5/armada/pkg/fleet"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/pretty"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
	"github.com/bwagner5/armada/pkg/providers/instances"
	"github.com/bwagner5/armada/pkg/providers/traffictiers"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type GetOptions struct {
	Name string `table:"Name"`
}

type FleetUI struct {
	Name          string `table:"Name"`
	Capacity      string `table:"Capacity"`
	HealthMode    string `table:"Health-Mode"`
	RefreshStatus string `table:"Refresh"`
	Address       string `table:"Address"`
	Members       string `table:"Members,wide"`
}

var (
	getOptions = GetOptions{}
	cmdGet     = &cobra.Command{
		Use:   "get ",
		Short: "get",
		Long:  `get`,
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: lo.Ternary(globalOpts.Verbose, slog.LevelDebug, slog.LevelInfo),
			}))
			return get(logging.ToContext(cmd.Context(), logger), getOptions, globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdGet)
	cmdGet.Flags().StringVar(&getOptions.Name, "name", "", "Name of the fleet")
}

func get(ctx context.Context, getOptions GetOptions, globalOpts GlobalOptions) error {
	awsCfg, err := AWSConfig(ctx, globalOpts)
	if err != nil {
		return err
	}

	fleetClient := fleet.New(awsCfg)
	capacityGroup, tier, err := fleetClient.Status(ctx, globalOpts.Namespace, getOptions.Name)
	if err != nil {
		return err
	}
	members, err := fleetClient.Members(ctx, globalOpts.Namespace, getOptions.Name)
	if err != nil {
		return err
	}

	fleetUI := []FleetUI{fleetToUI(getOptions.Name, capacityGroup, tier, members)}
	switch globalOpts.Output {
	case OutputJSON:
		fmt.Println(pretty.EncodeJSON(fleetUI))
	case OutputYAML:
		fmt.Println(pretty.EncodeYAML(fleetUI))
	case OutputTableShort:
		fmt.Println(pretty.Table(fleetUI, false))
		fmt.Println(pretty.Table(lo.Map(members, func(member instances.Instance, _ int) instances.PrettyInstance {
			return member.Prettify()
		}), false))
	case OutputTableWide:
		fmt.Println(pretty.Table(fleetUI, true))
		fmt.Println(pretty.Table(lo.Map(members, func(member instances.Instance, _ int) instances.PrettyInstance {
			return member.Prettify()
		}), true))
	}
	return nil
}

func fleetToUI(name string, capacityGroup *capacitygroups.CapacityGroup, tier *traffictiers.TrafficTier, members []instances.Instance) FleetUI {
	ui := FleetUI{
		Name: name,
		Capacity: fmt.Sprintf("%d/%d (min %d, max %d)",
			len(members),
			lo.FromPtr(capacityGroup.DesiredCapacity),
			lo.FromPtr(capacityGroup.MinSize),
			lo.FromPtr(capacityGroup.MaxSize)),
		HealthMode:    lo.FromPtr(capacityGroup.HealthCheckType),
		RefreshStatus: "none",
		Members:       fmt.Sprintf("%d", len(members)),
	}
	if capacityGroup.LatestRefresh != nil {
		ui.RefreshStatus = string(capacityGroup.LatestRefresh.Status)
		if pct := capacityGroup.LatestRefresh.PercentageComplete; pct != nil {
			ui.RefreshStatus = fmt.Sprintf("%s (%d%%)", ui.RefreshStatus, *pct)
		}
	}
	if tier != nil {
		ui.Address = tier.DNS()
	}
	return ui
}
