package version

var (
	// Version is assigned the release number at build time via
	// -ldflags "-X ...version.Version=..."
	Version string
)

// GetVersion returns the release number assigned at build time, or
// "dev" if none was.
func GetVersion() string {
	if Version != "" {
		return Version
	}
	return "dev"
}
