package amis

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/bwagner5/armada/pkg/selectors"
	"github.com/samber/lo"
)

var (
	aliases = map[string][]string{
		"al2023": {
			"/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-arm64",
			"/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64",
		},
		"al2023-minimal": {
			"/aws/service/ami-amazon-linux-latest/al2023-ami-minimal-kernel-default-arm64",
			"/aws/service/ami-amazon-linux-latest/al2023-ami-minimal-kernel-default-x86_64",
		},
		"al2": {
			"/aws/service/ami-amazon-linux-latest/amzn2-ami-hvm-arm64-gp2",
			"/aws/service/ami-amazon-linux-latest/amzn2-ami-hvm-x86_64-gp2",
		},
	}
)

type Selector struct {
	Tags         map[string]string
	Name         string
	ID           string
	OwnerID      string
	SSM          string
	Alias        string
	Architecture string
}

// Watcher discovers AMIs based on selectors
type Watcher struct {
	imageAPI SDKImageOps
	ssmAPI   SDKSSMOps
}

// SDKImageOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKImageOps interface {
	ec2.DescribeImagesAPIClient
}

type SDKSSMOps interface {
	GetParameters(context.Context, *ssm.GetParametersInput, ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// AMI represents an AWS Machine Image (AMI)
// This is not the AWS SDK Image type, but a wrapper around it so that we can add additional data
type AMI struct {
	ec2types.Image
}

// ParseSelectors parses a string of selectors into a slice of Selector structs
func ParseSelectors(selectorStr string) ([]Selector, error) {
	parsed, err := selectors.ParseSelectorsTokens(selectorStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AMI selectors: %w", err)
	}
	amiSelectors := make([]Selector, 0, len(parsed))
	for _, selector := range parsed {
		amiSelector := Selector{
			Tags: selector.Tags,
		}
		_, hasAlias := selector.KeyVals["alias"]
		_, hasSSM := selector.KeyVals["ssm"]
		if hasAlias && hasSSM {
			return nil, fmt.Errorf("cannot have both alias and ssm in the same selector term")
		}
		for k, v := range selector.KeyVals {
			switch k {
			case "id":
				amiSelector.ID = v
			case "name":
				amiSelector.Name = v
			case "owner":
				amiSelector.OwnerID = v
			case "ssm":
				amiSelector.SSM = v
			case "architecture":
				amiSelector.Architecture = v
			case "alias":
				if _, ok := aliases[v]; !ok {
					return nil, fmt.Errorf("invalid ami alias: %s", v)
				}
				amiSelector.Alias = v
			default:
				return nil, fmt.Errorf("invalid ami selector key: %s", k)
			}
		}
		amiSelectors = append(amiSelectors, amiSelector)
	}
	return amiSelectors, nil
}

// NewWatcher creates a new AMI Watcher
func NewWatcher(imageAPI SDKImageOps, ssmAPI SDKSSMOps) Watcher {
	return Watcher{
		imageAPI: imageAPI,
		ssmAPI:   ssmAPI,
	}
}

// Resolve returns a list of AMIs that match the provided selectors
// Multiple calls to EC2 and SSM may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]AMI, error) {
	var amis []AMI
	for i, filters := range filterSets(selectors) {
		// SSM alias paths resolve to concrete AMI IDs which are then described
		// like any other ID
		var paths []string
		if selectors[i].Alias != "" {
			paths = append(paths, aliases[selectors[i].Alias]...)
		}
		if selectors[i].SSM != "" {
			paths = append(paths, selectors[i].SSM)
		}
		var ssmImageIDs []string
		if len(paths) != 0 {
			pathOut, err := w.ssmAPI.GetParameters(ctx, &ssm.GetParametersInput{
				Names: paths,
			})
			if err != nil {
				return amis, fmt.Errorf("failed to resolve SSM image paths: %w", err)
			}
			ssmImageIDs = lo.Map(pathOut.Parameters, func(param ssmtypes.Parameter, _ int) string { return *param.Value })
		}
		// the owner-alias=self,amazon filter is always present, so a selector
		// term with only that filter and no SSM resolution selects nothing
		if len(filters) <= 1 && len(ssmImageIDs) == 0 {
			return amis, fmt.Errorf("no selectors provided for AMI selector")
		}
		if len(filters) > 1 {
			pager := ec2.NewDescribeImagesPaginator(w.imageAPI, &ec2.DescribeImagesInput{
				Filters: filters,
			})
			for pager.HasMorePages() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to describe images: %w", err)
				}
				amis = append(amis, lo.Map(page.Images, func(sdkAMI ec2types.Image, _ int) AMI {
					return AMI{sdkAMI}
				})...)
			}
		}
		if len(ssmImageIDs) != 0 {
			pager := ec2.NewDescribeImagesPaginator(w.imageAPI, &ec2.DescribeImagesInput{
				ImageIds: ssmImageIDs,
			})
			for pager.HasMorePages() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to describe images resolved from SSM: %w", err)
				}
				amis = append(amis, lo.Map(page.Images, func(sdkAMI ec2types.Image, _ int) AMI {
					return AMI{sdkAMI}
				})...)
			}
		}
	}
	return lo.UniqBy(amis, func(ami AMI) string { return lo.FromPtr(ami.ImageId) }), nil
}

// LatestFor picks the most recently created AMI that the given architectures
// can run. Alias and SSM selectors resolve both arm64 and x86_64 image paths,
// so picking purely by creation date could pin an image the chosen instance
// type cannot boot.
func LatestFor(amis []AMI, architectures []ec2types.ArchitectureType) (AMI, error) {
	if len(architectures) == 0 {
		return Latest(amis)
	}
	compatible := lo.Filter(amis, func(ami AMI, _ int) bool {
		return lo.Contains(architectures, ec2types.ArchitectureType(ami.Architecture))
	})
	if len(compatible) == 0 {
		return AMI{}, fmt.Errorf("no AMIs resolved for architectures %v", architectures)
	}
	return Latest(compatible)
}

// Latest picks the most recently created AMI from a resolved set. The launch
// template pins a single image per template generation.
func Latest(amis []AMI) (AMI, error) {
	if len(amis) == 0 {
		return AMI{}, fmt.Errorf("no AMIs resolved")
	}
	sorted := make([]AMI, len(amis))
	copy(sorted, amis)
	sort.Slice(sorted, func(i, j int) bool {
		return lo.FromPtr(sorted[i].CreationDate) > lo.FromPtr(sorted[j].CreationDate)
	})
	return sorted[0], nil
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
// Each filter is executed as a separate list call.
// Terms within a Selector are AND'd and between Selectors are OR'd
func filterSets(selectorList []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	for _, term := range selectorList {
		filters := []ec2types.Filter{}
		if term.OwnerID != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("owner-alias"),
				Values: []string{term.OwnerID},
			})
		} else {
			// restricting owners prevents matching look-alike public images
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("owner-alias"),
				Values: []string{"self", "amazon"},
			})
		}
		if term.ID != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("image-id"),
				Values: []string{term.ID},
			})
		}
		if term.Name != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("name"),
				Values: []string{term.Name},
			})
		}
		if term.Architecture != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("architecture"),
				Values: []string{term.Architecture},
			})
		}
		filters = append(filters, selectors.TagsToEC2Filters(term.Tags)...)
		filterResult = append(filterResult, filters)
	}
	return filterResult
}
