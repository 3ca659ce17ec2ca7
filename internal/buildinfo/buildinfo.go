// Package buildinfo carries version metadata injected at link time:
//
//	go build -ldflags "-X fieldroute/internal/buildinfo.Version=v1.2.3"
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the build metadata for debug endpoints.
func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
