package domain

import "time"

// Session is a GPS51 login token shared by every poll cycle.
type Session struct {
	Token     string
	Username  string
	ServerID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the token can still be used at now, keeping margin
// in reserve so a token never expires mid-cycle.
func (s *Session) ValidAt(now time.Time, margin time.Duration) bool {
	if s == nil || s.Token == "" {
		return false
	}
	return now.Add(margin).Before(s.ExpiresAt)
}
