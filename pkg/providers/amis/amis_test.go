package amis_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/armada/pkg/providers/amis"
)

func image(id string, arch ec2types.ArchitectureValues, created string) amis.AMI {
	return amis.AMI{Image: ec2types.Image{
		ImageId:      aws.String(id),
		Architecture: arch,
		CreationDate: aws.String(created),
	}}
}

func TestLatestForFiltersIncompatibleArchitectures(t *testing.T) {
	// an alias resolves both arm64 and x86_64 image paths and the arm64
	// build is newer, but an x86_64 instance type cannot boot it
	resolved := []amis.AMI{
		image("ami-arm", ec2types.ArchitectureValuesArm64, "2024-02-01T00:00:00.000Z"),
		image("ami-x86", ec2types.ArchitectureValuesX8664, "2024-01-01T00:00:00.000Z"),
	}

	ami, err := amis.LatestFor(resolved, []ec2types.ArchitectureType{ec2types.ArchitectureTypeX8664})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(ami.ImageId); got != "ami-x86" {
		t.Errorf("ImageId = %s, want ami-x86", got)
	}

	if _, err := amis.LatestFor(resolved, []ec2types.ArchitectureType{"riscv64"}); err == nil {
		t.Fatal("expected an error when no image matches the architectures")
	}
}

func TestLatestPicksNewestCreationDate(t *testing.T) {
	resolved := []amis.AMI{
		image("ami-old", ec2types.ArchitectureValuesX8664, "2023-06-01T00:00:00.000Z"),
		image("ami-new", ec2types.ArchitectureValuesX8664, "2024-01-01T00:00:00.000Z"),
	}
	ami, err := amis.Latest(resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(ami.ImageId); got != "ami-new" {
		t.Errorf("ImageId = %s, want ami-new", got)
	}

	if _, err := amis.Latest(nil); err == nil {
		t.Fatal("expected an error for an empty set")
	}
}
