package ir

import "time"

// Session is a recorded run of `testbed up`.
type Session struct {
	ID         string    `json:"id"`
	Manifest   string    `json:"manifest"`
	CreatedAt  time.Time `json:"createdAt"`
	Networks   []string  `json:"networks,omitempty"`
	Volumes    []string  `json:"volumes,omitempty"`
	Containers []string  `json:"containers,omitempty"`
}

// Sessions is the persisted session store document.
type Sessions struct {
	Version  int        `json:"version"`
	Sessions []*Session `json:"sessions"`
}
