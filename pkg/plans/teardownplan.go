package plans

type TeardownPlan struct {
	Metadata TeardownMetadata
	Spec     TeardownSpec
	Status   TeardownStatus
}

type TeardownMetadata struct {
	Namespace string
	Name      string
}

type TeardownSpec struct {
	// Force skips the interactive confirmation.
	Force bool
}

type TeardownStatus struct {
	// Teardown status maps a resource-id to a bool representing that the resource has been deleted.
	CapacityGroups  map[string]bool
	TrafficTiers    map[string]bool
	LaunchTemplates map[string]bool
	SecurityGroups  map[string]bool
}
