// Package moderation holds the bot's privilege and abuse state: the
// developer list, VIP grants, the ban list and the developer broadcast.
package moderation

import (
	"strings"
	"sync"

	"github.com/Veraticus/appbot/internal/identity"
)

// DefaultDevelopers are the phone numbers with developer rights.
var DefaultDevelopers = []string{"212718938088", "234905250308102"}

// Ban reasons.
const (
	ReasonHourly = "حظر بسبب تجاوز حد الرسائل (25/ساعة)"
	ReasonBurst  = "حظر بسبب تجاوز حد التحميلات (10 متسارعة)"
	ReasonCall   = "حظر تلقائي بسبب الاتصال"
	ReasonManual = "حظر يدوي من المطور"
)

// Developers matches user keys against the developer numbers. A key matches
// when its digits equal a developer number or end with one, so numbers with
// a country prefix still match.
type Developers struct {
	phones []string
}

// NewDevelopers builds the list. Non-digits are stripped and empty entries dropped.
func NewDevelopers(phones ...string) *Developers {
	d := &Developers{}
	for _, p := range phones {
		if p = identity.Digits(p); p != "" {
			d.phones = append(d.phones, p)
		}
	}
	return d
}

// Contains reports whether key belongs to a developer.
func (d *Developers) Contains(key string) bool {
	clean := identity.Digits(key)
	if clean == "" {
		return false
	}
	for _, p := range d.phones {
		if clean == p || strings.HasSuffix(clean, p) {
			return true
		}
	}
	return false
}

// Phones returns the configured numbers.
func (d *Developers) Phones() []string {
	return append([]string(nil), d.phones...)
}

// VIPSet is the process-local set of users who unlocked VIP mode.
type VIPSet struct {
	members map[string]struct{}
	mu      sync.RWMutex
}

// NewVIPSet creates an empty set.
func NewVIPSet() *VIPSet {
	return &VIPSet{members: make(map[string]struct{})}
}

// Grant adds key to the set.
func (v *VIPSet) Grant(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.members[key] = struct{}{}
}

// Has reports whether key is a VIP.
func (v *VIPSet) Has(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.members[key]
	return ok
}

// Len returns the number of VIPs.
func (v *VIPSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.members)
}

// Privileges combines the developer list and the VIP set for the rate limiter.
type Privileges struct {
	Developers *Developers
	VIPs       *VIPSet
}

// IsDeveloper implements ratelimit.Privileges.
func (p Privileges) IsDeveloper(key string) bool {
	return p.Developers != nil && p.Developers.Contains(key)
}

// IsVIP implements ratelimit.Privileges.
func (p Privileges) IsVIP(key string) bool {
	return p.VIPs != nil && p.VIPs.Has(key)
}
