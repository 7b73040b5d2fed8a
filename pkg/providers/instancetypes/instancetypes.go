package instancetypes

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aws/amazon-ec2-instance-selector/v3/pkg/bytequantity"
	"github.com/aws/amazon-ec2-instance-selector/v3/pkg/instancetypes"
	"github.com/aws/amazon-ec2-instance-selector/v3/pkg/selector"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/armada/pkg/selectors"
	"github.com/samber/lo"
)

type Selector struct {
	selector.Filters
}

type InstanceType struct {
	instancetypes.Details
}

type Watcher struct {
	instanceSelector *selector.Selector
	instanceTypeAPI  SDKInstanceTypeOps
}

type SDKInstanceTypeOps interface {
	ec2.DescribeInstanceTypesAPIClient
}

func NewWatcher(awsCfg aws.Config, instanceTypeAPI SDKInstanceTypeOps) Watcher {
	instanceSelector, err := selector.New(context.Background(), awsCfg)
	if err != nil {
		// instantiating ec2-instance-selector without a cache should never return an error.
		panic(err)
	}
	return Watcher{
		instanceSelector: instanceSelector,
		instanceTypeAPI:  instanceTypeAPI,
	}
}

// SupportedArchitectures returns the architectures an instance type can run.
// The pinned image must match one of them or the group would launch members
// that never boot.
func (w Watcher) SupportedArchitectures(ctx context.Context, instanceType string) ([]ec2types.ArchitectureType, error) {
	out, err := w.instanceTypeAPI.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance type %s: %w", instanceType, err)
	}
	if len(out.InstanceTypes) == 0 || out.InstanceTypes[0].ProcessorInfo == nil {
		return nil, fmt.Errorf("no architecture information for instance type %s", instanceType)
	}
	return out.InstanceTypes[0].ProcessorInfo.SupportedArchitectures, nil
}

// Resolve returns instance types matching the selector criteria, deduplicated
// across selector terms. The launch template carries the first match; the
// fleet is homogeneous by design.
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]InstanceType, error) {
	var allInstanceTypes []InstanceType
	for _, s := range selectors {
		instanceTypes, err := w.instanceSelector.FilterVerbose(ctx, s.Filters)
		if err != nil {
			return nil, err
		}
		allInstanceTypes = append(allInstanceTypes, lo.Map(instanceTypes, func(instanceType *instancetypes.Details, _ int) InstanceType { return InstanceType{*instanceType} })...)
	}
	return lo.UniqBy(allInstanceTypes, func(instanceType InstanceType) string { return string(instanceType.InstanceType) }), nil
}

// ParseSelectors parses a string of selectors into a slice of Selector structs
func ParseSelectors(selectorStr string) ([]Selector, error) {
	parsed, err := selectors.ParseSelectorsTokens(selectorStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse instance type selectors: %w", err)
	}
	instanceTypeSelectors := make([]Selector, 0, len(parsed))
	for _, s := range parsed {
		instanceTypeSelector := Selector{}
		for k, v := range s.KeyVals {
			switch k {
			case "vcpus":
				lowerBound, upperBound, err := parseIntRange(v)
				if err != nil {
					return nil, fmt.Errorf("invalid vcpus selector, %w", err)
				}
				instanceTypeSelector.VCpusRange = &selector.Int32RangeFilter{
					LowerBound: int32(lowerBound),
					UpperBound: lo.Ternary(upperBound == -1, math.MaxInt32, int32(upperBound)),
				}
			case "memory":
				lowerBound, upperBound, err := parseByteQuantityRange(v)
				if err != nil {
					return nil, fmt.Errorf("invalid memory selector, %w", err)
				}
				instanceTypeSelector.MemoryRange = &selector.ByteQuantityRangeFilter{
					LowerBound: lowerBound,
					UpperBound: upperBound,
				}
			case "arch":
				instanceTypeSelector.CPUArchitecture = lo.ToPtr(ec2types.ArchitectureType(v))
			case "generation":
				lowerBound, upperBound, err := parseIntRange(v)
				if err != nil {
					return nil, fmt.Errorf("invalid generation selector, %w", err)
				}
				instanceTypeSelector.Generation = &selector.IntRangeFilter{
					LowerBound: lowerBound,
					UpperBound: lo.Ternary(upperBound == -1, int(math.MaxInt), upperBound),
				}
			case "cpu-manufacturer":
				instanceTypeSelector.CPUManufacturer = lo.ToPtr(selector.CPUManufacturer(v))
			default:
				return nil, fmt.Errorf("invalid instance type selector key: %s", k)
			}
		}
		instanceTypeSelectors = append(instanceTypeSelectors, instanceTypeSelector)
	}
	return instanceTypeSelectors, nil
}

func parseByteQuantityRange(rangeStr string) (bytequantity.ByteQuantity, bytequantity.ByteQuantity, error) {
	lowerBoundStr, upperBoundStr, err := parseStringRange(rangeStr)
	if err != nil {
		return bytequantity.ByteQuantity{}, bytequantity.ByteQuantity{}, err
	}
	lowerBound := bytequantity.ByteQuantity{Quantity: 0}
	if lowerBoundStr != "" {
		lowerBound, err = bytequantity.ParseToByteQuantity(lowerBoundStr)
		if err != nil {
			return bytequantity.ByteQuantity{}, bytequantity.ByteQuantity{}, fmt.Errorf("lower bound error, %w", err)
		}
	}
	upperBound := bytequantity.ByteQuantity{Quantity: math.MaxUint64}
	if upperBoundStr != "" {
		upperBound, err = bytequantity.ParseToByteQuantity(upperBoundStr)
		if err != nil {
			return bytequantity.ByteQuantity{}, bytequantity.ByteQuantity{}, fmt.Errorf("upper bound error, %w", err)
		}
	}
	return lowerBound, upperBound, nil
}

// parseStringRange parses selector ranges into string tokens
//
// Examples:
//
//	"1-9"
//	"1GiB - 10 GiB"
//	"1-" upper bound is infinite
//	"-10" lower bound is a zero value
//	"1" lower and upper bound are both 1
func parseStringRange(rangeStr string) (string, string, error) {
	rangeStr = strings.TrimSpace(rangeStr)
	if strings.Contains(rangeStr, "-") {
		tokens := strings.Split(rangeStr, "-")
		if len(tokens) > 2 {
			return "", "", fmt.Errorf("found %d tokens, expected at most 2 tokens", len(tokens))
		}
		if len(tokens) == 1 {
			if strings.HasPrefix(rangeStr, "-") {
				return "", strings.TrimSpace(tokens[0]), nil
			}
			return strings.TrimSpace(tokens[0]), "", nil
		}
		return strings.TrimSpace(tokens[0]), strings.TrimSpace(tokens[1]), nil
	}
	return rangeStr, rangeStr, nil
}

// parseIntRange parses a selector string into an int range, where -1 stands in
// for an unbounded upper bound
func parseIntRange(rangeStr string) (int, int, error) {
	lowerBoundStr, upperBoundStr, err := parseStringRange(rangeStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid int range, %w", err)
	}
	lowerBound := 0
	if lowerBoundStr != "" {
		lowerBound, err = strconv.Atoi(lowerBoundStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid int range, %w", err)
		}
	}
	upperBound := -1
	if upperBoundStr != "" {
		upperBound, err = strconv.Atoi(upperBoundStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid int range, %w", err)
		}
	}
	if upperBound != -1 && upperBound < lowerBound {
		return 0, 0, fmt.Errorf("invalid int range, lower bound should be less than or equal to upper bound")
	}
	return lowerBound, upperBound, nil
}
