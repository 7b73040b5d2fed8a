package plans

import (
	"errors"
	"fmt"

	"github.com/bwagner5/armada/pkg/boundary"
	"github.com/bwagner5/armada/pkg/providers/amis"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
	"github.com/bwagner5/armada/pkg/providers/instancetypes"
	"github.com/bwagner5/armada/pkg/providers/subnets"
	"github.com/bwagner5/armada/pkg/providers/traffictiers"
)

// DefaultRefreshIntervalDays is used when a plan does not set a
// refresh cadence.
const DefaultRefreshIntervalDays = 30

var ErrInvalidConfiguration = errors.New("invalid configuration")

type ProvisionPlan struct {
	Metadata ProvisionMetadata
	Spec     ProvisionSpec
	Status   ProvisionStatus
}

type ProvisionMetadata struct {
	Namespace string
	Name      string
}

type ProvisionSpec struct {
	MinSize         int32
	DesiredCapacity int32
	MaxSize         int32
	// InstanceType pins a literal type; selectors are ignored when set.
	InstanceType          string
	InstanceTypeSelectors []instancetypes.Selector
	SubnetSelectors       []subnets.Selector
	AMISelectors          []amis.Selector
	MonitoringConfig      string
	Tier                  TierSpec
	FallbackIngressCIDR   string
	ExternalAddress       string
	RefreshIntervalDays   int
}

// TierSpec opts a fleet into a managed traffic tier. A certificate is
// required exactly when the tier is enabled since the tier's listener
// terminates TLS.
type TierSpec struct {
	Enabled        bool
	CertificateARN string
}

type ProvisionStatus struct {
	Subnets               []subnets.Subnet
	AMIs                  []amis.AMI
	InstanceTypes         []instancetypes.InstanceType
	FleetSecurityGroupID  string
	TierSecurityGroupID   string
	Ingress               boundary.Policy
	LaunchTemplateID      string
	LaunchTemplateVersion string
	Tier                  *traffictiers.TrafficTier
	CapacityGroup         *capacitygroups.CapacityGroup
	EffectiveAddress      string
}

// Default fills in the optional knobs a spec may leave unset.
func (s *ProvisionSpec) Default() {
	if s.RefreshIntervalDays == 0 {
		s.RefreshIntervalDays = DefaultRefreshIntervalDays
	}
	if s.FallbackIngressCIDR == "" {
		s.FallbackIngressCIDR = boundary.DefaultFallbackCIDR
	}
}

// Validate rejects a spec before any cloud call is made. All failures
// wrap ErrInvalidConfiguration.
func (s ProvisionSpec) Validate() error {
	if err := capacitygroups.ValidateCapacity(s.MinSize, s.DesiredCapacity, s.MaxSize); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, err)
	}
	if len(s.SubnetSelectors) == 0 {
		return fmt.Errorf("%w: at least one subnet selector is required", ErrInvalidConfiguration)
	}
	if len(s.AMISelectors) == 0 {
		return fmt.Errorf("%w: at least one ami selector is required", ErrInvalidConfiguration)
	}
	if s.Tier.Enabled && s.Tier.CertificateARN == "" {
		return fmt.Errorf("%w: a certificate is required when the traffic tier is enabled", ErrInvalidConfiguration)
	}
	if !s.Tier.Enabled && s.Tier.CertificateARN != "" {
		return fmt.Errorf("%w: a certificate was given but the traffic tier is disabled", ErrInvalidConfiguration)
	}
	if s.RefreshIntervalDays < 0 {
		return fmt.Errorf("%w: refresh interval days must not be negative", ErrInvalidConfiguration)
	}
	return nil
}
