package awsutils

import (
	"errors"
	"slices"

	"github.com/aws/smithy-go"
)

func IsAlreadyExistsErr(err error) bool {
	return hasErrorCode(err,
		"InvalidLaunchTemplateName.AlreadyExistsException",
		"AlreadyExists",
		"DuplicateLoadBalancerName",
		"DuplicateTargetGroupName",
		"InvalidPermission.Duplicate",
		"InvalidGroup.Duplicate",
	)
}

func IsNotFoundErr(err error) bool {
	return hasErrorCode(err,
		"InvalidLaunchTemplateId.NotFound",
		"InvalidLaunchTemplateName.NotFoundException",
		"InvalidGroup.NotFound",
		"LoadBalancerNotFound",
		"TargetGroupNotFound",
		"ListenerNotFound",
		"ValidationError",
	)
}

// IsRefreshInProgressErr reports whether an instance refresh trigger was
// rejected because one is already running.
func IsRefreshInProgressErr(err error) bool {
	return hasErrorCode(err, "InstanceRefreshInProgress")
}

// IsTransientErr covers throttles and service-side hiccups that the next
// scheduled tick will retry.
func IsTransientErr(err error) bool {
	return hasErrorCode(err,
		"Throttling",
		"ThrottlingException",
		"RequestLimitExceeded",
		"ServiceUnavailable",
		"InternalFailure",
	)
}

func hasErrorCode(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	return slices.Contains(codes, ae.ErrorCode())
}
