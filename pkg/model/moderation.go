package model

import "time"

// Mute is an active mute entry for a single user. At most one mute exists
// per user; issuing a new one replaces the prior entry.
type Mute struct {
	Subject  string        `json:"subject"`
	IssuedAt time.Time     `json:"issued_at"`
	Duration time.Duration `json:"duration"` // 0 = permanent until removal
}

// Active reports whether the mute is still in force at the given time.
// Expiry is a pure function of now and the entry: no sweep is required for
// an entry to stop being enforced.
func (m Mute) Active(now time.Time) bool {
	if m.Duration == 0 {
		return true
	}
	return now.Before(m.IssuedAt.Add(m.Duration))
}

// Ban is an active ban entry for a single user. Like mutes, bans replace
// rather than stack. Reason and IP are optional and recorded for the
// moderation log.
type Ban struct {
	Subject  string        `json:"subject"`
	Reason   string        `json:"reason,omitempty"`
	IssuedAt time.Time     `json:"issued_at"`
	Duration time.Duration `json:"duration"` // 0 = permanent until removal
	IP       string        `json:"ip,omitempty"`
}

// Active reports whether the ban is still in force at the given time.
func (b Ban) Active(now time.Time) bool {
	if b.Duration == 0 {
		return true
	}
	return now.Before(b.IssuedAt.Add(b.Duration))
}
