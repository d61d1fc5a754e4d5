package version

// VERSION is the current version of the engine, set at build time via ldflags
// when a release is cut.
var VERSION = "0.4.0-dev"

// AppVersion returns the identifier stamped on generated messages.
func AppVersion() string {
	return "guarantee-message-engine " + VERSION
}
