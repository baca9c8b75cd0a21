package ratelimit

import "time"

// Subject selects what a policy counts against.
type Subject int

const (
	// BySourceAddress keys on the client IP.
	BySourceAddress Subject = iota
	// ByAccount keys on the authenticated account id.
	ByAccount
)

// Policy is a named limit over a trailing window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
	By     Subject
}

// Key returns the counter key for subject under p.
func (p Policy) Key(subject string) string {
	return p.Name + ":" + subject
}

// Preset policies.
var (
	Login   = Policy{Name: "login", Limit: 5, Window: time.Minute, By: BySourceAddress}
	Refresh = Policy{Name: "refresh", Limit: 10, Window: time.Minute, By: BySourceAddress}
	Logout  = Policy{Name: "logout", Limit: 5, Window: time.Minute, By: BySourceAddress}
	Me      = Policy{Name: "me", Limit: 60, Window: time.Minute, By: ByAccount}
	API     = Policy{Name: "api", Limit: 100, Window: time.Minute, By: BySourceAddress}
)

var presets = map[string]Policy{
	Login.Name:   Login,
	Refresh.Name: Refresh,
	Logout.Name:  Logout,
	Me.Name:      Me,
	API.Name:     API,
}

// PolicyByName returns the preset named name, falling back to API for unknown names.
func PolicyByName(name string) Policy {
	if p, ok := presets[name]; ok {
		return p
	}
	return API
}
