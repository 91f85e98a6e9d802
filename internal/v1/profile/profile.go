// Package profile holds the per-bot moderation state: the admin identity,
// privilege groups, whitelist and blacklist. A profile is not synchronized;
// the owning bot guards it with its named locks.
package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

// Permits maps permit names to privilege levels; lower means more
// privileged.
var Permits = map[string]int{
	"admin": 0,
	"moder": 1,
	"dj":    50,
	"user":  100,
}

// Blacklist entry statuses.
const (
	BanPermanent = "permanent"
	BanCommands  = "commands"
)

// Identity is a chat user pinned by name and tripcode.
type Identity struct {
	Name     string `json:"name"`
	Tripcode string `json:"tripcode"`
}

// Group grants its members a permit level. Users maps member names to the
// tripcodes accepted for them; an empty list accepts any tripcode.
type Group struct {
	Permit          string              `json:"permit"`
	RequireTripcode bool                `json:"require_tripcode"`
	Users           map[string][]string `json:"users"`
}

// AddUser registers a member. Groups that require tripcodes reject
// anonymous members.
func (g *Group) AddUser(name, tripcode string) error {
	if g.RequireTripcode && tripcode == "" {
		return fmt.Errorf("group requires a tripcode")
	}
	if g.Users == nil {
		g.Users = make(map[string][]string)
	}
	if tripcode == "" {
		g.Users[name] = []string{}
		return nil
	}
	for _, tc := range g.Users[name] {
		if tc == tripcode {
			return nil
		}
	}
	g.Users[name] = append(g.Users[name], tripcode)
	return nil
}

// RemoveUser drops a member entirely.
func (g *Group) RemoveUser(name string) {
	delete(g.Users, name)
}

// HasUser reports membership: the name must be present and the tripcode
// must be listed, unless the member accepts any tripcode.
func (g *Group) HasUser(name, tripcode string) bool {
	tripcodes, ok := g.Users[name]
	if !ok {
		return false
	}
	if len(tripcodes) == 0 {
		return true
	}
	for _, tc := range tripcodes {
		if tc == tripcode {
			return true
		}
	}
	return false
}

// BlacklistEntry records why and how hard a user is banned.
type BlacklistEntry struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Profile is the full moderation state of one bot.
type Profile struct {
	Admin   Identity
	BotName string

	Whitelist        map[string]int64
	Blacklist        map[string]BlacklistEntry
	Groups           map[string]*Group
	WhitelistEnabled bool
}

// New builds a fresh profile with the default moder and dj groups.
func New(admin Identity, botName string) *Profile {
	return &Profile{
		Admin:     admin,
		BotName:   botName,
		Whitelist: make(map[string]int64),
		Blacklist: make(map[string]BlacklistEntry),
		Groups: map[string]*Group{
			"moder": {Permit: "moder", RequireTripcode: true, Users: make(map[string][]string)},
			"dj":    {Permit: "dj", Users: make(map[string][]string)},
		},
	}
}

// Load restores a profile from the JSON snapshots persisted in the session
// document. Missing blobs fall back to the defaults.
func Load(admin Identity, botName string, whitelist, blacklist, groups json.RawMessage) (*Profile, error) {
	p := New(admin, botName)
	if len(whitelist) > 0 {
		if err := json.Unmarshal(whitelist, &p.Whitelist); err != nil {
			return nil, fmt.Errorf("profile: whitelist snapshot: %w", err)
		}
	}
	if len(blacklist) > 0 {
		if err := json.Unmarshal(blacklist, &p.Blacklist); err != nil {
			return nil, fmt.Errorf("profile: blacklist snapshot: %w", err)
		}
	}
	if len(groups) > 0 {
		loaded := make(map[string]*Group)
		if err := json.Unmarshal(groups, &loaded); err != nil {
			return nil, fmt.Errorf("profile: groups snapshot: %w", err)
		}
		for name, g := range loaded {
			if _, ok := Permits[g.Permit]; !ok {
				return nil, fmt.Errorf("profile: group %q has unknown permit %q", name, g.Permit)
			}
			if g.Users == nil {
				g.Users = make(map[string][]string)
			}
			p.Groups[name] = g
		}
	}
	return p, nil
}

// Snapshot serializes the mutable state for heartbeats and write-back.
func (p *Profile) Snapshot() (whitelist, blacklist, groups json.RawMessage, err error) {
	if whitelist, err = json.Marshal(p.Whitelist); err != nil {
		return
	}
	if blacklist, err = json.Marshal(p.Blacklist); err != nil {
		return
	}
	groups, err = json.Marshal(p.Groups)
	return
}

// IsAdmin matches the admin identity exactly.
func (p *Profile) IsAdmin(name, tripcode string) bool {
	return p.Admin.Name == name && p.Admin.Tripcode == tripcode
}

// UserPermit computes the effective permit: the admin identity
// short-circuits, everyone else gets the minimum over their groups with the
// base user level as ceiling.
func (p *Profile) UserPermit(name, tripcode string) int {
	if p.IsAdmin(name, tripcode) {
		return Permits["admin"]
	}
	permit := Permits["user"]
	for _, g := range p.Groups {
		if g.HasUser(name, tripcode) {
			if level, ok := Permits[g.Permit]; ok && level < permit {
				permit = level
			}
		}
	}
	return permit
}

// CheckPermit reports whether the user's effective permit satisfies the
// named group's permit level.
func (p *Profile) CheckPermit(group, name, tripcode string) bool {
	g, ok := p.Groups[group]
	if !ok {
		return false
	}
	return p.UserPermit(name, tripcode) <= Permits[g.Permit]
}

// AddGroup registers a custom group after validating its permit.
func (p *Profile) AddGroup(name string, g *Group) error {
	if _, ok := Permits[g.Permit]; !ok {
		return fmt.Errorf("profile: unknown permit %q", g.Permit)
	}
	if g.Users == nil {
		g.Users = make(map[string][]string)
	}
	p.Groups[name] = g
	return nil
}

// --- Whitelist ---

// AddToWhitelist records a name with its insertion time. Entries never
// expire.
func (p *Profile) AddToWhitelist(name string) {
	p.Whitelist[name] = time.Now().Unix()
}

func (p *Profile) RemoveFromWhitelist(name string) {
	delete(p.Whitelist, name)
}

func (p *Profile) Whitelisted(name string) bool {
	_, ok := p.Whitelist[name]
	return ok
}

// --- Blacklist ---

// AddToBlacklist records a ban. A permanent entry is never downgraded by a
// later commands-only ban.
func (p *Profile) AddToBlacklist(name, status, reason string) error {
	if status != BanPermanent && status != BanCommands {
		return fmt.Errorf("profile: unknown blacklist status %q", status)
	}
	if existing, ok := p.Blacklist[name]; ok && existing.Status == BanPermanent {
		return nil
	}
	p.Blacklist[name] = BlacklistEntry{Status: status, Reason: reason}
	return nil
}

// RemoveFromBlacklist lifts a ban. Without full, a permanent ban is only
// downgraded to a commands ban.
func (p *Profile) RemoveFromBlacklist(name string, full bool) {
	entry, ok := p.Blacklist[name]
	if !ok {
		return
	}
	if full || entry.Status != BanPermanent {
		delete(p.Blacklist, name)
		return
	}
	entry.Status = BanCommands
	p.Blacklist[name] = entry
}

// BanStatus looks up the blacklist entry for a name.
func (p *Profile) BanStatus(name string) (BlacklistEntry, bool) {
	entry, ok := p.Blacklist[name]
	return entry, ok
}
