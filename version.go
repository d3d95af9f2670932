package gitlab

import "fmt"

const (
	VersionMajor = 0
	VersionMinor = 3
	VersionPatch = 1
)

// Version is the semantic version of the plugin, reported to Vault at
// registration and through the backend's running version.
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
