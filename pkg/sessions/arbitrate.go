package sessions

// candidate pairs a tracked session with the status fetched for it during arbitration
type candidate struct {
	key    string
	status PlaybackStatus
}

// arbitrate picks the session to treat as active. Playing sessions win over paused
// ones; within a tier the first one in registry order wins
func arbitrate(candidates []candidate) (string, bool) {
	for _, c := range candidates {
		if c.status == PlaybackStatusPlaying {
			return c.key, true
		}
	}

	for _, c := range candidates {
		if c.status == PlaybackStatusPaused {
			return c.key, true
		}
	}

	return "", false
}
