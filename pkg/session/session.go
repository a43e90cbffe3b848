// Package session correlates resources with the test run that created them.
//
// A non-empty session ID marks a resource as owned by the run: it is labelled
// with the ID and deleted when disposed. An empty ID means the resource is
// managed elsewhere and is left alone.
package session

import (
	"sync"

	"github.com/lithammer/shortuuid"
)

const (
	// LabelManaged marks every resource created by testbed.
	LabelManaged = "io.picklr.testbed"

	// LabelSessionID carries the owning session ID.
	LabelSessionID = "io.picklr.testbed.session-id"
)

var defaultID = sync.OnceValue(NewID)

// NewID returns a fresh session ID.
func NewID() string {
	return shortuuid.New()
}

// Default returns a process-wide session ID, generated on first use.
func Default() string {
	return defaultID()
}

// Labels returns the labels stamped on resources owned by sessionID, or nil
// for an empty ID.
func Labels(sessionID string) map[string]string {
	if sessionID == "" {
		return nil
	}
	return map[string]string{
		LabelManaged:   "true",
		LabelSessionID: sessionID,
	}
}
