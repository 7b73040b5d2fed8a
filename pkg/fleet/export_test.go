package fleet

import (
	"github.com/bwagner5/armada/pkg/providers/amis"
	"github.com/bwagner5/armada/pkg/providers/capacitygroups"
	"github.com/bwagner5/armada/pkg/providers/instances"
	"github.com/bwagner5/armada/pkg/providers/instancetypes"
	"github.com/bwagner5/armada/pkg/providers/launchtemplates"
	"github.com/bwagner5/armada/pkg/providers/securitygroups"
	"github.com/bwagner5/armada/pkg/providers/subnets"
	"github.com/bwagner5/armada/pkg/providers/traffictiers"
)

type Watchers struct {
	Subnets         subnets.Watcher
	SecurityGroups  securitygroups.Watcher
	AMIs            amis.Watcher
	InstanceTypes   instancetypes.Watcher
	Instances       instances.Watcher
	LaunchTemplates launchtemplates.Watcher
	CapacityGroups  capacitygroups.Watcher
	TrafficTiers    traffictiers.Watcher
}

func NewFromWatchers(watchers Watchers) AWSFleet {
	return AWSFleet{
		subnetWatcher:         watchers.Subnets,
		securityGroupWatcher:  watchers.SecurityGroups,
		amiWatcher:            watchers.AMIs,
		instanceTypeWatcher:   watchers.InstanceTypes,
		instanceWatcher:       watchers.Instances,
		launchTemplateWatcher: watchers.LaunchTemplates,
		capacityGroupWatcher:  watchers.CapacityGroups,
		trafficTierWatcher:    watchers.TrafficTiers,
	}
}
