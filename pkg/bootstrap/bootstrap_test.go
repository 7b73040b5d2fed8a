package bootstrap_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bwagner5/armada/pkg/bootstrap"
)

func TestBuild(t *testing.T) {
	type testCase struct {
		name             string
		monitoringConfig string
	}

	for _, tc := range []testCase{
		{
			name:             "token present once",
			monitoringConfig: `{"agent":{"hostname":"` + bootstrap.HostnameToken + `"}}`,
		},
		{
			name:             "token absent",
			monitoringConfig: `{"agent":{}}`,
		},
		{
			name: "token present twice",
			monitoringConfig: `{"agent":{"hostname":"` + bootstrap.HostnameToken +
				`","alias":"` + bootstrap.HostnameToken + `"}}`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			payload := bootstrap.Build(context.Background(), tc.monitoringConfig)
			userData := payload.UserData()

			// the template is packaged verbatim, token included
			if !strings.Contains(userData, tc.monitoringConfig) {
				t.Errorf("expected user data to contain the monitoring config verbatim")
			}
			expectedTokens := strings.Count(tc.monitoringConfig, bootstrap.HostnameToken)
			// the boot script itself carries one token inside the sed expression
			if got := strings.Count(userData, bootstrap.HostnameToken); got != expectedTokens+1 {
				t.Errorf("expected %d hostname tokens in user data, got %d", expectedTokens+1, got)
			}
			// the substitution happens on the instance, never at build time
			if !strings.Contains(userData, "hostname -s") {
				t.Errorf("expected boot-time substitution of the short hostname")
			}
		})
	}
}

func TestBuildIsBestEffort(t *testing.T) {
	payload := bootstrap.Build(context.Background(), "{}")
	for _, line := range strings.Split(payload.UserData(), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "set -e") {
			t.Errorf("boot script must not abort on failed steps, found %q", trimmed)
		}
	}
	for _, step := range []string{"install", "systemctl enable", "sed -i"} {
		if !strings.Contains(payload.UserData(), step) {
			t.Errorf("expected boot script to contain step %q", step)
		}
	}
}
