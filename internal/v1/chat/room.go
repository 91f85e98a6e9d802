package chat

// User is a room participant as reported by the chat service.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Tripcode string `json:"tripcode"`
	Admin    bool   `json:"admin"`
}

// Message kinds appearing in room updates.
const (
	KindMessage = "message"
	KindJoin    = "join"
	KindLeave   = "leave"
	KindMusic   = "music"
	KindKick    = "kick"
	KindBan     = "ban"
	KindNewHost = "new-host"
)

// Message is one talk entry from a room update.
type Message struct {
	ID   string  `json:"id"`
	Kind string  `json:"type"`
	Text string  `json:"message"`
	User User    `json:"user"`
	To   *User   `json:"to,omitempty"`
	URL  string  `json:"url,omitempty"`
	Time float64 `json:"time"`
}

// Private reports whether the message was whispered to someone.
func (m *Message) Private() bool { return m.To != nil }

// RoomUpdate is the delta document served by the update endpoint.
type RoomUpdate struct {
	Name   string    `json:"name"`
	Users  []User    `json:"users"`
	HostID string    `json:"host"`
	Talks  []Message `json:"talks"`
	DJMode bool      `json:"djMode"`
	Music  bool      `json:"music"`
	Update string    `json:"update"`
}

// RoomInfo is the public listing entry used before joining.
type RoomInfo struct {
	ID     string `json:"roomId"`
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Music  bool   `json:"music"`
	Hidden bool   `json:"hidden"`
	Users  []User `json:"users"`
	Host   string `json:"host"`
}

// Full reports whether the room has no free slot.
func (r *RoomInfo) Full() bool { return r.Limit > 0 && r.Total >= r.Limit }

// Room tracks the live state of a joined chat room. Not safe for concurrent
// use; the owning bot serializes access through its room lock.
type Room struct {
	Name       string
	Users      map[string]*User
	HostID     string
	DJMode     bool
	Music      bool
	UpdateTime string
}

func NewRoom() *Room {
	return &Room{Users: make(map[string]*User)}
}

// Connected reports whether at least one update has been applied.
func (r *Room) Connected() bool { return r.UpdateTime != "" }

// ApplyUpdate merges a delta into the room and returns the new messages.
// Messages from the very first update are discarded: they are history from
// before the bot joined.
func (r *Room) ApplyUpdate(u *RoomUpdate) []Message {
	if u.Name != "" {
		r.Name = u.Name
	}
	if u.Users != nil {
		users := make(map[string]*User, len(u.Users))
		for i := range u.Users {
			user := u.Users[i]
			users[user.ID] = &user
		}
		r.Users = users
	}
	if u.HostID != "" {
		r.HostID = u.HostID
	}
	r.DJMode = u.DJMode
	r.Music = u.Music

	var fresh []Message
	if r.Connected() {
		fresh = u.Talks
	}
	if u.Update != "" {
		r.UpdateTime = u.Update
	}
	return fresh
}

// IsHost reports whether the given user currently holds host.
func (r *Room) IsHost(u *User) bool {
	return u != nil && u.ID != "" && u.ID == r.HostID
}

// Host returns the current host, or nil when unknown.
func (r *Room) Host() *User {
	return r.Users[r.HostID]
}

// UserByName finds a participant by display name.
func (r *Room) UserByName(name string) (*User, error) {
	for _, u := range r.Users {
		if u.Name == name {
			return u, nil
		}
	}
	return nil, &UserNotFoundError{Name: name}
}

// UserByID finds a participant by id.
func (r *Room) UserByID(id string) (*User, bool) {
	u, ok := r.Users[id]
	return u, ok
}
