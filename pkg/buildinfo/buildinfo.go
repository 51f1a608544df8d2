package buildinfo

import (
	"runtime"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/meetsync/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/meetsync/pkg/buildinfo.Commit=b806fe7
// -X github.com/otherjamesbrown/meetsync/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Name is the program name used in version output and the HTTP User-Agent.
const Name = "meetsync"

// Info holds build information for the binary.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
}

// Get returns build info for the named service.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String returns a human-readable one-liner like "v0.3.0 (b806fe7, 2026-02-07T10:30:00Z)"
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// UserAgent is sent with every outbound API request, e.g. "meetsync/v0.3.0 (go1.24.0)".
func UserAgent() string {
	return Name + "/" + Version + " (" + runtime.Version() + ")"
}
