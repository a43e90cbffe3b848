// Package version holds the build version of testbed.
package version

// Version is set at build time via ldflags.
var Version = "dev"

// UserAgent is the value sent in the User-Agent header of engine requests.
func UserAgent() string {
	return "testbed/" + Version
}
