// Package boundary computes the single ingress rule for a fleet's security
// group from the presence or absence of a traffic tier.
package boundary

// DefaultFallbackCIDR is the ingress range used when no traffic tier fronts
// the fleet and the operator did not narrow it. It is a broad private-network
// default and should be scoped down per deployment.
const DefaultFallbackCIDR = "10.0.0.0/8"

// MemberPort is the port fleet members listen on for traffic and health checks.
const MemberPort int32 = 80

type SourceKind string

const (
	// SourceTrafficTierGroup allows ingress only from the traffic tier's own
	// security group.
	SourceTrafficTierGroup SourceKind = "traffic-tier-group"
	// SourceStaticCIDR allows ingress from a static address range.
	SourceStaticCIDR SourceKind = "static-cidr"
)

// TierRef identifies a provisioned traffic tier. A nil *TierRef means the
// fleet has no tier in front of it.
type TierRef struct {
	SecurityGroupID string
}

// Policy is the resolved ingress rule. Exactly one of TierGroupID and CIDR is
// set, matching Source.
type Policy struct {
	Source      SourceKind
	TierGroupID string
	CIDR        string
	Port        int32
	// Defaulted marks that CIDR fell back to DefaultFallbackCIDR, so callers
	// can warn operators to narrow it.
	Defaulted bool
}

// Resolve returns the ingress policy for a fleet. It is total over the tier
// sum type: a tier reference yields the tier-group rule, its absence yields
// the static-CIDR rule, and never both or neither. Egress is untouched in
// either case.
func Resolve(tier *TierRef, fallbackCIDR string) Policy {
	if tier != nil {
		return Policy{
			Source:      SourceTrafficTierGroup,
			TierGroupID: tier.SecurityGroupID,
			Port:        MemberPort,
		}
	}
	policy := Policy{
		Source: SourceStaticCIDR,
		CIDR:   fallbackCIDR,
		Port:   MemberPort,
	}
	if policy.CIDR == "" {
		policy.CIDR = DefaultFallbackCIDR
		policy.Defaulted = true
	}
	return policy
}
