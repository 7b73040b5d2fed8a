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
	"github.com/charmbracelet/huh"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type DeleteOptions struct {
	Name  string
	Force bool
}

var (
	deleteOptions = DeleteOptions{}
	cmdDelete     = &cobra.Command{
		Use:   "delete ",
		Short: "delete",
		Long:  `delete`,
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: lo.Ternary(globalOpts.Verbose, slog.LevelDebug, slog.LevelInfo),
			}))
			return delete(logging.ToContext(cmd.Context(), logger), deleteOptions, globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdDelete)
	cmdDelete.Flags().StringVar(&deleteOptions.Name, "name", "", "Name of the fleet")
	cmdDelete.Flags().BoolVar(&deleteOptions.Force, "force", false, "Don't ask, just do it!")
}

func delete(ctx context.Context, deleteOptions DeleteOptions, globalOpts GlobalOptions) error {
	awsCfg, err := AWSConfig(ctx, globalOpts)
	if err != nil {
		return err
	}
	fleetClient := fleet.New(awsCfg)
	teardownPlan, err := fleetClient.TeardownPlan(ctx, globalOpts.Namespace, deleteOptions.Name)
	if err != nil {
		return err
	}
	teardownPlan.Spec.Force = deleteOptions.Force

	if !deleteOptions.Force {
		var confirmed bool
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete fleet %s/%s?", globalOpts.Namespace, deleteOptions.Name)).
			Description("The capacity group, traffic tier, launch template, and security groups will all be deleted.").
			Value(&confirmed).
			Run(); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted")
			return nil
		}
	}

	teardownPlan, err = fleetClient.Teardown(ctx, teardownPlan)
	if globalOpts.Verbose {
		fmt.Println(pretty.EncodeYAML(teardownPlan))
	}
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %s/%s\n", globalOpts.Namespace, deleteOptions.Name)
	return nil
}
