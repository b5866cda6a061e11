// Package version reports the module version the binary was built from
package version

import "runtime/debug"

// Version is the build version
var Version string = "unable to get version"

func init() {
	inf, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = inf.Main.Version
}
