// Package bootstrap assembles the per-instance startup payload. The payload
// wraps the operator's monitoring configuration into a boot script that
// performs the hostname token substitution on the instance itself and
// best-effort installs the monitoring agent and reverse proxy.
package bootstrap

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwagner5/armada/pkg/logging"
)

// HostnameToken is replaced with the instance's short hostname at boot time,
// not at build time, because the hostname is not known until boot.
const HostnameToken = "__HOSTNAME__"

// configMarker is where the monitoring configuration is spliced into the boot
// script, verbatim.
const configMarker = "__MONITORING_CONFIG__"

//go:embed bootscript.sh
var bootScript string

// Payload is an opaque per-instance configuration blob. It is immutable once
// built; launch template creation base64-encodes UserData before upload.
type Payload struct {
	userData string
}

func (p Payload) UserData() string {
	return p.userData
}

// Build packages the monitoring configuration template into a boot payload.
// The template should carry HostnameToken exactly once. A missing token is
// tolerated (the boot-time substitution silently no-ops) and extra occurrences
// are all substituted, so neither is an error, but both are logged since they
// usually indicate a malformed template.
func Build(ctx context.Context, monitoringConfig string) Payload {
	switch occurrences := strings.Count(monitoringConfig, HostnameToken); {
	case occurrences == 0:
		logging.FromContext(ctx).Warn("monitoring config has no hostname token, substitution will no-op", "token", HostnameToken)
	case occurrences > 1:
		logging.FromContext(ctx).Warn("monitoring config has multiple hostname tokens, all will be substituted", "token", HostnameToken, "occurrences", occurrences)
	}
	return Payload{
		userData: strings.Replace(bootScript, configMarker, monitoringConfig, 1),
	}
}
