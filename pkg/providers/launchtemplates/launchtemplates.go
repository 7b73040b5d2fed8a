package launchtemplates

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/armada/pkg/providers/securitygroups"
	"github.com/bwagner5/armada/pkg/selectors"
	"github.com/bwagner5/armada/pkg/utils/awsutils"
	"github.com/bwagner5/armada/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// Watcher discovers launch templates based on selectors
type Watcher struct {
	launchTemplateAPI SDKLaunchTemplatesOps
}

// SDKLaunchTemplatesOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKLaunchTemplatesOps interface {
	ec2.DescribeLaunchTemplatesAPIClient
	ec2.DescribeLaunchTemplateVersionsAPIClient
	CreateLaunchTemplate(context.Context, *ec2.CreateLaunchTemplateInput, ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
	CreateLaunchTemplateVersion(context.Context, *ec2.CreateLaunchTemplateVersionInput, ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error)
	ModifyLaunchTemplate(context.Context, *ec2.ModifyLaunchTemplateInput, ...func(*ec2.Options)) (*ec2.ModifyLaunchTemplateOutput, error)
	DeleteLaunchTemplate(context.Context, *ec2.DeleteLaunchTemplateInput, ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error)
}

// Selector is a struct that represents a launch template selector
type Selector struct {
	Tags map[string]string
	ID   string
	Name string
}

// TemplateSpec holds everything a template generation pins: the image, the
// instance type, the bootstrap payload, and the fleet security groups.
type TemplateSpec struct {
	ImageID        string
	InstanceType   string
	UserData       string
	SecurityGroups []securitygroups.SecurityGroup
}

// LaunchTemplate represents an Amazon EC2 LaunchTemplate
// This is not the AWS SDK LaunchTemplate type, but a wrapper around it so that we can add additional data
type LaunchTemplate struct {
	ec2types.LaunchTemplate
	LaunchTemplateVersions []LaunchTemplateVersion
}

type LaunchTemplateVersion struct {
	ec2types.LaunchTemplateVersion
}

// ParseSelectors parses a string of selectors into a slice of Selector structs
func ParseSelectors(selectorStr string) ([]Selector, error) {
	parsed, err := selectors.ParseSelectorsTokens(selectorStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse launch template selectors: %w", err)
	}
	launchTemplateSelectors := make([]Selector, 0, len(parsed))
	for _, selector := range parsed {
		launchTemplateSelector := Selector{
			Tags: selector.Tags,
		}
		for k, v := range selector.KeyVals {
			switch k {
			case "id":
				launchTemplateSelector.ID = v
			case "name":
				launchTemplateSelector.Name = v
			default:
				return nil, fmt.Errorf("invalid launch template selector key: %s", k)
			}
		}
		launchTemplateSelectors = append(launchTemplateSelectors, launchTemplateSelector)
	}
	return launchTemplateSelectors, nil
}

// NewWatcher creates a new LaunchTemplate Watcher
func NewWatcher(launchTemplateAPI SDKLaunchTemplatesOps) Watcher {
	return Watcher{
		launchTemplateAPI: launchTemplateAPI,
	}
}

// Resolve returns a list of launch templates that match the provided selectors
// Multiple calls to EC2 may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]LaunchTemplate, error) {
	var launchTemplates []LaunchTemplate
	for i, filters := range filterSets(selectors) {
		pager := ec2.NewDescribeLaunchTemplatesPaginator(w.launchTemplateAPI, &ec2.DescribeLaunchTemplatesInput{
			Filters:           filters,
			LaunchTemplateIds: lo.Ternary(selectors[i].ID == "", nil, []string{selectors[i].ID}),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				if awsutils.IsNotFoundErr(err) {
					return nil, nil
				}
				return nil, fmt.Errorf("failed to describe launch templates: %w", err)
			}
			for _, lt := range page.LaunchTemplates {
				ltVersions, err := w.resolveLaunchTemplateVersions(ctx, *lt.LaunchTemplateId)
				if err != nil {
					return nil, err
				}
				launchTemplates = append(launchTemplates, LaunchTemplate{LaunchTemplate: lt, LaunchTemplateVersions: ltVersions})
			}
		}
	}
	return launchTemplates, nil
}

func (w Watcher) resolveLaunchTemplateVersions(ctx context.Context, launchTemplateID string) ([]LaunchTemplateVersion, error) {
	var launchTemplateVersions []LaunchTemplateVersion
	pager := ec2.NewDescribeLaunchTemplateVersionsPaginator(w.launchTemplateAPI, &ec2.DescribeLaunchTemplateVersionsInput{
		LaunchTemplateId: aws.String(launchTemplateID),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe launch template versions for %s: %w", launchTemplateID, err)
		}
		launchTemplateVersions = append(launchTemplateVersions, lo.Map(page.LaunchTemplateVersions, func(ltVersion ec2types.LaunchTemplateVersion, _ int) LaunchTemplateVersion {
			return LaunchTemplateVersion{ltVersion}
		})...)
	}
	return launchTemplateVersions, nil
}

// Ensure creates the launch template if it does not exist, or publishes a new
// version and promotes it to the default. The new generation always exists
// before the old one stops being used, so capacity migration never has a gap
// to launch into.
func (w Watcher) Ensure(ctx context.Context, namespace string, name string, spec TemplateSpec) (string, string, error) {
	existing, err := w.Resolve(ctx, []Selector{{Name: fmt.Sprintf("%s/%s", namespace, name)}})
	if err != nil {
		return "", "", err
	}
	if len(existing) > 1 {
		return "", "", fmt.Errorf("expected at most 1 launch template named %s/%s, found %d", namespace, name, len(existing))
	}
	data := &ec2types.RequestLaunchTemplateData{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     ec2types.InstanceType(spec.InstanceType),
		UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		SecurityGroupIds: lo.Map(spec.SecurityGroups, func(sg securitygroups.SecurityGroup, _ int) string { return *sg.GroupId }),
	}
	if len(existing) == 0 {
		out, err := w.launchTemplateAPI.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
			LaunchTemplateName: aws.String(fmt.Sprintf("%s/%s", namespace, name)),
			LaunchTemplateData: data,
			TagSpecifications: []ec2types.TagSpecification{
				{
					ResourceType: ec2types.ResourceTypeLaunchTemplate,
					Tags:         tagutils.EC2NamespacedTags(namespace, name),
				},
			},
		})
		if err != nil {
			return "", "", fmt.Errorf("failed to create launch template: %w", err)
		}
		return *out.LaunchTemplate.LaunchTemplateId, strconv.FormatInt(lo.FromPtr(out.LaunchTemplate.LatestVersionNumber), 10), nil
	}
	launchTemplateID := *existing[0].LaunchTemplateId
	versionOut, err := w.launchTemplateAPI.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
		LaunchTemplateId:   aws.String(launchTemplateID),
		LaunchTemplateData: data,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create launch template version: %w", err)
	}
	newVersion := strconv.FormatInt(lo.FromPtr(versionOut.LaunchTemplateVersion.VersionNumber), 10)
	if _, err := w.launchTemplateAPI.ModifyLaunchTemplate(ctx, &ec2.ModifyLaunchTemplateInput{
		LaunchTemplateId: aws.String(launchTemplateID),
		DefaultVersion:   aws.String(newVersion),
	}); err != nil {
		return "", "", fmt.Errorf("failed to promote launch template version %s: %w", newVersion, err)
	}
	return launchTemplateID, newVersion, nil
}

func (w Watcher) DeleteLaunchTemplate(ctx context.Context, launchTemplateID string) error {
	_, err := w.launchTemplateAPI.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{LaunchTemplateId: &launchTemplateID})
	if err != nil && !awsutils.IsNotFoundErr(err) {
		return err
	}
	return nil
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
func filterSets(selectorList []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	for _, term := range selectorList {
		switch {
		case term.Name != "":
			filterResult = append(filterResult, []ec2types.Filter{
				{
					Name:   aws.String("launch-template-name"),
					Values: []string{term.Name},
				},
			})
		case term.ID != "":
			filterResult = append(filterResult, nil)
		default:
			filterResult = append(filterResult, selectors.TagsToEC2Filters(term.Tags))
		}
	}
	return filterResult
}
