package chat

import "context"

// HiddenRoomName substitutes the room title when the owner asked not to
// disclose it.
const HiddenRoomName = "[hidden]"

// Identity is the proof gathered by VerifyUser: the tripcode belonging to
// the user's passcode and the title of the target room.
type Identity struct {
	Tripcode string
	RoomName string
}

// VerifyUser proves that the requester controls the claimed chat identity
// and is entitled to attach a bot to the room. It logs in with the user's
// own credentials, reads the resulting tripcode from the lounge profile and,
// unless hidden is set, checks the room: it must exist, have a free slot,
// be hosted by the user, and not already contain the bot name.
func VerifyUser(ctx context.Context, baseURL, userName, passcode, roomID, botName string, hidden bool) (*Identity, error) {
	client := NewClient(baseURL)
	if err := client.Login(ctx, userName, passcode, ""); err != nil {
		return nil, err
	}
	// The transient session is abandoned either way.
	defer func() { _ = client.Logout(context.WithoutCancel(ctx)) }()

	lounge, err := client.Lounge(ctx)
	if err != nil {
		return nil, err
	}
	identity := &Identity{Tripcode: lounge.Profile.Tripcode}

	if hidden {
		identity.RoomName = HiddenRoomName
		return identity, nil
	}

	room := findRoom(lounge.Rooms, roomID)
	if room == nil {
		return nil, RequestError("Room not found")
	}
	if err := checkRoom(room, userName, identity.Tripcode, botName); err != nil {
		return nil, err
	}
	identity.RoomName = room.Name
	return identity, nil
}

func findRoom(rooms []RoomInfo, roomID string) *RoomInfo {
	for i := range rooms {
		if rooms[i].ID == roomID {
			return &rooms[i]
		}
	}
	return nil
}

func checkRoom(room *RoomInfo, userName, tripcode, botName string) error {
	if room.Full() {
		return RequestError("Room is full")
	}
	var host *User
	for i := range room.Users {
		u := &room.Users[i]
		if u.ID == room.Host {
			host = u
		}
		if u.Name == botName {
			return RequestError("User with bot name already in the room")
		}
	}
	if host == nil || host.Name != userName || host.Tripcode != tripcode {
		return RequestError("User must be host of the room")
	}
	return nil
}
