/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package buildversion

import (
	"runtime/debug"
)

// GetVersion resolves the version of the named module from the build info
// embedded in the running binary.  It returns "unknown" when the binary
// carries no build info or does not reference the module at all.
func GetVersion(modulePath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	if info.Main.Path == modulePath {
		if info.Main.Version == "" || info.Main.Version == "(devel)" {
			return develVersion(info)
		}
		return info.Main.Version
	}

	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}

		if dep.Replace != nil {
			return dep.Replace.Version
		}
		return dep.Version
	}

	return "unknown"
}

// develVersion derives a version string from the vcs metadata the
// toolchain records for builds straight out of a working tree.
func develVersion(info *debug.BuildInfo) string {
	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}

	if revision == "" {
		return "0.0.0-dev"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		return "0.0.0-dev+" + revision + ".dirty"
	}
	return "0.0.0-dev+" + revision
}
