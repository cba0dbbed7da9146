// Package buildinfo carries build-time metadata injected through ldflags
package buildinfo

import "fmt"

// UnknownValue stands in for metadata missing from the build
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable
type Context struct {
	// Version holds the Git version tag from build
	Version string
	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext creates a Context
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release is the identifier reported to error telemetry
func (c *Context) Release() string {
	return "safetrack@" + c.GetVersion()
}

func (c *Context) String() string {
	return fmt.Sprintf("SafeTrack %s (built %s)", c.GetVersion(), c.GetBuildDate())
}
