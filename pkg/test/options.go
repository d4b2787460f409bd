/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package test

import (
	"github.com/samber/lo"

	"github.com/hackdesk/orchestrator/pkg/operator/options"
)

// Options returns a fully-populated configuration suitable for suites:
// every required field set, auth enabled with a known secret.
func Options(overrides ...func(*options.Options)) *options.Options {
	opts := options.New()
	lo.Must0(opts.Parse([]string{
		"--sessions-table", "sessions",
		"--instance-pool-table", "instance-pool",
		"--usage-table", "usage",
		"--connections-table", "connections",
		"--gateway-url", "https://gateway.test/guacamole",
		"--gateway-admin-pass", "guacadmin",
		"--portal-webhook-secret", PortalSecret,
		"--rdp-username", "workstation",
		"--rdp-password", "workstation",
		"--asg-name-freemium", "pool-freemium",
		"--asg-name-starter", "pool-starter",
		"--asg-name-pro", "pool-pro",
	}))
	for _, override := range overrides {
		override(opts)
	}
	return opts
}
