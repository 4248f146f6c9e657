package scorer

// Version represents the current semantic version of the toxicity-client library.
//
// Pre-1.0: minor versions may contain breaking changes.
const Version = "0.1.0"

// VersionInfo encapsulates version metadata for the toxicity-client library.
type VersionInfo struct {
	// Version contains the semantic version string following semver format
	Version string

	// Name contains the canonical library name for identification purposes
	Name string
}

// GetVersion returns structured version information for the toxicity-client library.
//
// Usage:
//
//	info := GetVersion()
//	log.Printf("Using %s version %s", info.Name, info.Version)
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Name:    "toxicity-client",
	}
}

// userAgent is sent on every outgoing HTTP request
func userAgent() string {
	info := GetVersion()
	return info.Name + "/" + info.Version
}
