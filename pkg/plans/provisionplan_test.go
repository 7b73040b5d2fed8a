package plans_test

import (
	"errors"
	"testing"

	"github.com/bwagner5/armada/pkg/plans"
	"github.com/bwagner5/armada/pkg/providers/amis"
	"github.com/bwagner5/armada/pkg/providers/subnets"
)

func validSpec() plans.ProvisionSpec {
	return plans.ProvisionSpec{
		MinSize:         1,
		DesiredCapacity: 2,
		MaxSize:         3,
		SubnetSelectors: []subnets.Selector{{Tags: map[string]string{"Name": "private"}}},
		AMISelectors:    []amis.Selector{{Alias: "al2023"}},
	}
}

func TestValidate(t *testing.T) {
	type testCase struct {
		name      string
		mutate    func(*plans.ProvisionSpec)
		expectErr bool
	}
	for _, tc := range []testCase{
		{name: "valid", mutate: func(_ *plans.ProvisionSpec) {}},
		{name: "desired outside range", mutate: func(s *plans.ProvisionSpec) { s.DesiredCapacity = 5 }, expectErr: true},
		{name: "no subnet selectors", mutate: func(s *plans.ProvisionSpec) { s.SubnetSelectors = nil }, expectErr: true},
		{name: "no ami selectors", mutate: func(s *plans.ProvisionSpec) { s.AMISelectors = nil }, expectErr: true},
		{name: "tier without certificate", mutate: func(s *plans.ProvisionSpec) { s.Tier.Enabled = true }, expectErr: true},
		{name: "certificate without tier", mutate: func(s *plans.ProvisionSpec) { s.Tier.CertificateARN = "arn:cert" }, expectErr: true},
		{name: "tier with certificate", mutate: func(s *plans.ProvisionSpec) {
			s.Tier.Enabled = true
			s.Tier.CertificateARN = "arn:cert"
		}},
		{name: "negative refresh interval", mutate: func(s *plans.ProvisionSpec) { s.RefreshIntervalDays = -1 }, expectErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			err := spec.Validate()
			if tc.expectErr {
				if !errors.Is(err, plans.ErrInvalidConfiguration) {
					t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	spec := validSpec()
	spec.Default()
	if spec.RefreshIntervalDays != 30 {
		t.Errorf("RefreshIntervalDays = %d, want 30", spec.RefreshIntervalDays)
	}
	if spec.FallbackIngressCIDR != "10.0.0.0/8" {
		t.Errorf("FallbackIngressCIDR = %s, want 10.0.0.0/8", spec.FallbackIngressCIDR)
	}

	// explicit settings are left alone
	spec.RefreshIntervalDays = 7
	spec.FallbackIngressCIDR = "192.168.0.0/16"
	spec.Default()
	if spec.RefreshIntervalDays != 7 || spec.FallbackIngressCIDR != "192.168.0.0/16" {
		t.Errorf("Default overwrote explicit settings: %+v", spec)
	}
}
