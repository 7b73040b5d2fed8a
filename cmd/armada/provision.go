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
	"strings"

	"github.com/bwagner5/armada/pkg/fleet"
	"github.com/bwagner5/armada/pkg/logging"
	"github.com/bwagner5/armada/pkg/plans"
	"github.com/bwagner5/armada/pkg/pretty"
	"github.com/bwagner5/armada/pkg/providers/amis"
	"github.com/bwagner5/armada/pkg/providers/instancetypes"
	"github.com/bwagner5/armada/pkg/providers/subnets"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type ProvisionOptions struct {
	Name                 string `table:"Name" yaml:"name"`
	MinSize              int32  `table:"Min" yaml:"minSize"`
	DesiredCapacity      int32  `table:"Desired" yaml:"desiredCapacity"`
	MaxSize              int32  `table:"Max" yaml:"maxSize"`
	InstanceType         string `table:"Instance Type" yaml:"instanceType"`
	InstanceTypeSelector string `table:"Instance Type Selector" yaml:"instanceTypeSelector"`
	SubnetSelector       string `table:"Subnet Selector" yaml:"subnetSelector"`
	AMISelector          string `table:"OS Image Selector" yaml:"amiSelector"`
	MonitoringConfig     string `yaml:"monitoringConfig"`
	Tier                 bool   `table:"Traffic Tier" yaml:"tier"`
	CertificateARN       string `yaml:"certificateARN"`
	IngressCIDR          string `yaml:"ingressCIDR"`
	ExternalAddress      string `yaml:"externalAddress"`
	RefreshIntervalDays  int    `yaml:"refreshIntervalDays"`
}

var (
	provisionOptions = ProvisionOptions{}
	cmdProvision     = &cobra.Command{
		Use:   "provision ",
		Short: "provision",
		Long:  `provision`,
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: lo.Ternary(globalOpts.Verbose, slog.LevelDebug, slog.LevelInfo),
			}))
			return provision(logging.ToContext(cmd.Context(), logger), provisionOptions, globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdProvision)
	cmdProvision.Flags().StringVar(&provisionOptions.Name, "name", "", "Name of the fleet")
	cmdProvision.Flags().Int32Var(&provisionOptions.MinSize, "min", 1, "Minimum number of fleet members")
	cmdProvision.Flags().Int32Var(&provisionOptions.DesiredCapacity, "desired", 1, "Desired number of fleet members")
	cmdProvision.Flags().Int32Var(&provisionOptions.MaxSize, "max", 1, "Maximum number of fleet members")
	cmdProvision.Flags().StringVar(&provisionOptions.InstanceType, "instance-type", "", "Literal Instance Type e.g. --instance-type m5.large")
	cmdProvision.Flags().StringVar(&provisionOptions.InstanceTypeSelector, "instance-types", "", "Instance Type Criteria e.g. --instance-types 'vcpus:2-6,arch:arm64'")
	cmdProvision.Flags().StringVar(&provisionOptions.SubnetSelector, "subnets", "", "Subnet selector to dynamically find eligible subnets. Selectors are AND'd together. e.g. --subnets 'tag:Name=public,tag:Environment=dev' OR --subnets 'id:subnet-0123456'")
	cmdProvision.Flags().StringVar(&provisionOptions.AMISelector, "amis", "", "AMI selector to dynamically find eligible OS Images. Selectors are AND'd together. e.g. --amis 'tag:Name=fancyOS,tag:Environment=dev' OR --amis 'alias:al2023'")
	cmdProvision.Flags().StringVar(&provisionOptions.MonitoringConfig, "monitoring-config", "", "Monitoring agent config JSON or a file containing it. e.g --monitoring-config file://monitoring.json")
	cmdProvision.Flags().BoolVar(&provisionOptions.Tier, "tier", false, "Provision a traffic tier in front of the fleet")
	cmdProvision.Flags().StringVar(&provisionOptions.CertificateARN, "certificate", "", "Certificate ARN for the traffic tier's TLS listener. Required with --tier")
	cmdProvision.Flags().StringVar(&provisionOptions.IngressCIDR, "ingress-cidr", "", "CIDR allowed to reach fleet members directly when no traffic tier is enabled")
	cmdProvision.Flags().StringVar(&provisionOptions.ExternalAddress, "external-address", "", "Address to report for the fleet when no traffic tier is enabled")
	cmdProvision.Flags().IntVar(&provisionOptions.RefreshIntervalDays, "refresh-interval-days", 0, "Days between scheduled rolling refreshes (default 30)")
}

func provision(ctx context.Context, provisionOptions ProvisionOptions, globalOpts GlobalOptions) error {
	awsCfg, err := AWSConfig(ctx, globalOpts)
	if err != nil {
		return err
	}
	provisionOptions, err = ParseConfig(globalOpts, provisionOptions)
	if err != nil {
		return err
	}

	subnetSelectors, err := subnets.ParseSelectors(provisionOptions.SubnetSelector)
	if err != nil {
		return err
	}
	amiSelectors, err := amis.ParseSelectors(provisionOptions.AMISelector)
	if err != nil {
		return err
	}
	instanceTypeSelectors, err := instancetypes.ParseSelectors(provisionOptions.InstanceTypeSelector)
	if err != nil {
		return err
	}
	monitoringConfig, err := fileOrLiteral(provisionOptions.MonitoringConfig)
	if err != nil {
		return err
	}

	provisionPlanInput := plans.ProvisionPlan{
		Metadata: plans.ProvisionMetadata{
			Namespace: globalOpts.Namespace,
			Name:      provisionOptions.Name,
		},
		Spec: plans.ProvisionSpec{
			MinSize:               provisionOptions.MinSize,
			DesiredCapacity:       provisionOptions.DesiredCapacity,
			MaxSize:               provisionOptions.MaxSize,
			InstanceType:          provisionOptions.InstanceType,
			InstanceTypeSelectors: instanceTypeSelectors,
			SubnetSelectors:       subnetSelectors,
			AMISelectors:          amiSelectors,
			MonitoringConfig:      monitoringConfig,
			Tier: plans.TierSpec{
				Enabled:        provisionOptions.Tier,
				CertificateARN: provisionOptions.CertificateARN,
			},
			FallbackIngressCIDR: provisionOptions.IngressCIDR,
			ExternalAddress:     provisionOptions.ExternalAddress,
			RefreshIntervalDays: provisionOptions.RefreshIntervalDays,
		},
	}

	provisionPlan, err := fleet.New(awsCfg).Provision(ctx, provisionPlanInput)
	if globalOpts.Verbose {
		fmt.Println(pretty.EncodeYAML(provisionPlan))
	}
	if err != nil {
		return err
	}

	fmt.Printf("Provisioned %s/%s at %s\n", globalOpts.Namespace, provisionOptions.Name, provisionPlan.Status.EffectiveAddress)

	return nil
}

// fileOrLiteral returns the contents of a file:// reference or the
// value itself.
func fileOrLiteral(value string) (string, error) {
	path, ok := strings.CutPrefix(value, "file://")
	if !ok {
		return value, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(contents), nil
}
