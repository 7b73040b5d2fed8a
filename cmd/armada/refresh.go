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
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type RefreshOptions struct {
	Name string
}

var (
	refreshOptions = RefreshOptions{}
	cmdRefresh     = &cobra.Command{
		Use:   "refresh ",
		Short: "refresh",
		Long:  `Start a rolling refresh of the fleet's members`,
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: lo.Ternary(globalOpts.Verbose, slog.LevelDebug, slog.LevelInfo),
			}))
			return refresh(logging.ToContext(cmd.Context(), logger), refreshOptions, globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdRefresh)
	cmdRefresh.Flags().StringVar(&refreshOptions.Name, "name", "", "Name of the fleet")
}

func refresh(ctx context.Context, refreshOptions RefreshOptions, globalOpts GlobalOptions) error {
	awsCfg, err := AWSConfig(ctx, globalOpts)
	if err != nil {
		return err
	}

	refreshID, err := fleet.New(awsCfg).StartRefresh(ctx, globalOpts.Namespace, refreshOptions.Name)
	if err != nil {
		return err
	}
	if refreshID == "" {
		fmt.Printf("A refresh of %s/%s is already in progress\n", globalOpts.Namespace, refreshOptions.Name)
		return nil
	}
	fmt.Printf("Started refresh %s of %s/%s\n", refreshID, globalOpts.Namespace, refreshOptions.Name)
	return nil
}
