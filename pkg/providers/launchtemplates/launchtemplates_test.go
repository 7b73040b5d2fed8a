package launchtemplates_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/armada/pkg/providers/launchtemplates"
)

type mockLaunchTemplateAPI struct {
	describeLaunchTemplatesFunc        func(ctx context.Context, params *ec2.DescribeLaunchTemplatesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplatesOutput, error)
	describeLaunchTemplateVersionsFunc func(ctx context.Context, params *ec2.DescribeLaunchTemplateVersionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplateVersionsOutput, error)
	createLaunchTemplateFunc           func(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
	createLaunchTemplateVersionFunc    func(ctx context.Context, params *ec2.CreateLaunchTemplateVersionInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error)
	modifyLaunchTemplateFunc           func(ctx context.Context, params *ec2.ModifyLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.ModifyLaunchTemplateOutput, error)
	deleteLaunchTemplateFunc           func(ctx context.Context, params *ec2.DeleteLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error)
}

func (m *mockLaunchTemplateAPI) DescribeLaunchTemplates(ctx context.Context, params *ec2.DescribeLaunchTemplatesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplatesOutput, error) {
	return m.describeLaunchTemplatesFunc(ctx, params, optFns...)
}

func (m *mockLaunchTemplateAPI) DescribeLaunchTemplateVersions(ctx context.Context, params *ec2.DescribeLaunchTemplateVersionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplateVersionsOutput, error) {
	return m.describeLaunchTemplateVersionsFunc(ctx, params, optFns...)
}

func (m *mockLaunchTemplateAPI) CreateLaunchTemplate(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error) {
	return m.createLaunchTemplateFunc(ctx, params, optFns...)
}

func (m *mockLaunchTemplateAPI) CreateLaunchTemplateVersion(ctx context.Context, params *ec2.CreateLaunchTemplateVersionInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error) {
	return m.createLaunchTemplateVersionFunc(ctx, params, optFns...)
}

func (m *mockLaunchTemplateAPI) ModifyLaunchTemplate(ctx context.Context, params *ec2.ModifyLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.ModifyLaunchTemplateOutput, error) {
	return m.modifyLaunchTemplateFunc(ctx, params, optFns...)
}

func (m *mockLaunchTemplateAPI) DeleteLaunchTemplate(ctx context.Context, params *ec2.DeleteLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error) {
	return m.deleteLaunchTemplateFunc(ctx, params, optFns...)
}

func TestEnsureCreatesWhenMissing(t *testing.T) {
	var created bool
	mock := &mockLaunchTemplateAPI{
		describeLaunchTemplatesFunc: func(_ context.Context, _ *ec2.DescribeLaunchTemplatesInput, _ ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplatesOutput, error) {
			return &ec2.DescribeLaunchTemplatesOutput{}, nil
		},
		createLaunchTemplateFunc: func(_ context.Context, params *ec2.CreateLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error) {
			created = true
			if *params.LaunchTemplateName != "prod/web" {
				t.Errorf("LaunchTemplateName = %s, want prod/web", *params.LaunchTemplateName)
			}
			if string(params.LaunchTemplateData.InstanceType) != "m5.large" {
				t.Errorf("InstanceType = %s, want m5.large", params.LaunchTemplateData.InstanceType)
			}
			return &ec2.CreateLaunchTemplateOutput{
				LaunchTemplate: &ec2types.LaunchTemplate{
					LaunchTemplateId:    aws.String("lt-123"),
					LatestVersionNumber: aws.Int64(1),
				},
			}, nil
		},
	}
	watcher := launchtemplates.NewWatcher(mock)
	id, version, err := watcher.Ensure(context.Background(), "prod", "web", launchtemplates.TemplateSpec{
		ImageID:      "ami-123",
		InstanceType: "m5.large",
		UserData:     "#!/usr/bin/env bash",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected CreateLaunchTemplate to be called")
	}
	if id != "lt-123" || version != "1" {
		t.Errorf("got (%s, %s), want (lt-123, 1)", id, version)
	}
}

func TestEnsureCreatesNewVersionBeforePromoting(t *testing.T) {
	var calls []string
	mock := &mockLaunchTemplateAPI{
		describeLaunchTemplatesFunc: func(_ context.Context, _ *ec2.DescribeLaunchTemplatesInput, _ ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplatesOutput, error) {
			return &ec2.DescribeLaunchTemplatesOutput{
				LaunchTemplates: []ec2types.LaunchTemplate{{
					LaunchTemplateId:     aws.String("lt-123"),
					DefaultVersionNumber: aws.Int64(3),
				}},
			}, nil
		},
		describeLaunchTemplateVersionsFunc: func(_ context.Context, _ *ec2.DescribeLaunchTemplateVersionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplateVersionsOutput, error) {
			return &ec2.DescribeLaunchTemplateVersionsOutput{}, nil
		},
		createLaunchTemplateVersionFunc: func(_ context.Context, _ *ec2.CreateLaunchTemplateVersionInput, _ ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error) {
			calls = append(calls, "create-version")
			return &ec2.CreateLaunchTemplateVersionOutput{
				LaunchTemplateVersion: &ec2types.LaunchTemplateVersion{
					VersionNumber: aws.Int64(4),
				},
			}, nil
		},
		modifyLaunchTemplateFunc: func(_ context.Context, params *ec2.ModifyLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.ModifyLaunchTemplateOutput, error) {
			calls = append(calls, "promote")
			if *params.DefaultVersion != "4" {
				t.Errorf("DefaultVersion = %s, want 4", *params.DefaultVersion)
			}
			return &ec2.ModifyLaunchTemplateOutput{}, nil
		},
		deleteLaunchTemplateFunc: func(_ context.Context, _ *ec2.DeleteLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error) {
			t.Fatal("a template replacement must never delete")
			return nil, nil
		},
	}
	watcher := launchtemplates.NewWatcher(mock)
	id, version, err := watcher.Ensure(context.Background(), "prod", "web", launchtemplates.TemplateSpec{
		ImageID:      "ami-456",
		InstanceType: "m5.large",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "lt-123" || version != "4" {
		t.Errorf("got (%s, %s), want (lt-123, 4)", id, version)
	}
	// the new generation must exist before the old one is retired
	if len(calls) != 2 || calls[0] != "create-version" || calls[1] != "promote" {
		t.Errorf("calls = %v, want [create-version promote]", calls)
	}
}
