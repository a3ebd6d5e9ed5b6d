package version

// Version is set at build time via ldflags:
//
//	-ldflags "-X predeploy/internal/version.Version=v1.0.0"
//
// When built without ldflags it defaults to "dev".
var Version = "dev"

// Line is the one-line banner printed by the version command.
func Line(app string) string {
	return app + " version " + Version
}
