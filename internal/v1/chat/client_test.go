package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat is a minimal chat service for client tests.
type fakeChat struct {
	t        *testing.T
	mux      *http.ServeMux
	loggedIn bool
	posts    []url.Values
	lounge   LoungeInfo
	update   RoomUpdate
}

func newFakeChat(t *testing.T) (*fakeChat, *httptest.Server) {
	f := &fakeChat{t: t, mux: http.NewServeMux()}

	f.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("token") != "tok-1" {
			json.NewEncoder(w).Encode(map[string]string{"error": "Invalid token"})
			return
		}
		if r.PostForm.Get("name") == "banned" {
			json.NewEncoder(w).Encode(map[string]string{"error": "Login rejected"})
			return
		}
		f.loggedIn = true
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "cookie-1"})
		w.Write([]byte(`{}`))
	})
	f.mux.HandleFunc("/lounge", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.lounge)
	})
	f.mux.HandleFunc("/room/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, r.ParseForm())
			f.posts = append(f.posts, r.PostForm)
		}
		w.Write([]byte(`{}`))
	})
	f.mux.HandleFunc("/json.php", func(w http.ResponseWriter, r *http.Request) {
		f.update.Update = r.URL.Query().Get("update") + "1"
		json.NewEncoder(w).Encode(f.update)
	})
	f.mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		f.loggedIn = false
		w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestClientLogin(t *testing.T) {
	fake, srv := newFakeChat(t)
	client := NewClient(srv.URL)

	require.NoError(t, client.Login(context.Background(), "lamb", "#secret1", ""))
	assert.True(t, fake.loggedIn)
}

func TestClientLogin_Rejected(t *testing.T) {
	_, srv := newFakeChat(t)
	client := NewClient(srv.URL)

	err := client.Login(context.Background(), "banned", "#secret1", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "Login rejected", apiErr.Message)
}

func TestClientNotResponding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Login(context.Background(), "lamb", "#secret1", "")
	assert.ErrorIs(t, err, ErrNotResponding)

	// Unreachable server counts as not responding too.
	srv.Close()
	err = client.Login(context.Background(), "lamb", "#secret1", "")
	assert.ErrorIs(t, err, ErrNotResponding)
}

func TestClientRoomActions(t *testing.T) {
	fake, srv := newFakeChat(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.SendMessage(ctx, "hello", "u2", "https://example.com"))
	require.NoError(t, client.GiveHost(ctx, "u2"))
	require.NoError(t, client.Kick(ctx, "u3"))
	require.NoError(t, client.Ban(ctx, "u4"))
	require.NoError(t, client.PlayMusic(ctx, "track", "https://stream"))
	require.NoError(t, client.LeaveRoom(ctx))

	require.Len(t, fake.posts, 6)
	assert.Equal(t, "hello", fake.posts[0].Get("message"))
	assert.Equal(t, "u2", fake.posts[0].Get("to"))
	assert.Equal(t, "https://example.com", fake.posts[0].Get("url"))
	assert.Equal(t, "u2", fake.posts[1].Get("new_host"))
	assert.Equal(t, "u3", fake.posts[2].Get("kick"))
	assert.Equal(t, "u4", fake.posts[3].Get("ban"))
	assert.Equal(t, "music", fake.posts[4].Get("music"))
	assert.Equal(t, "track", fake.posts[4].Get("name"))
	assert.Equal(t, "leave", fake.posts[5].Get("leave"))
}

func TestClientFetchUpdate(t *testing.T) {
	fake, srv := newFakeChat(t)
	fake.update = RoomUpdate{
		Talks: []Message{{ID: "m1", Kind: KindMessage, Text: "hi"}},
	}
	client := NewClient(srv.URL)

	update, err := client.FetchUpdate(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "421", update.Update)
	require.Len(t, update.Talks, 1)
	assert.Equal(t, "hi", update.Talks[0].Text)
}

func TestVerifyUser(t *testing.T) {
	fake, srv := newFakeChat(t)
	fake.lounge = LoungeInfo{
		Rooms: []RoomInfo{{
			ID:    "abcdefghij",
			Name:  "music room",
			Total: 2,
			Limit: 5,
			Host:  "u1",
			Users: []User{{ID: "u1", Name: "host", Tripcode: "trip1"}, {ID: "u2", Name: "guest"}},
		}},
	}
	fake.lounge.Profile.Name = "host"
	fake.lounge.Profile.Tripcode = "trip1"
	ctx := context.Background()

	t.Run("Happy path", func(t *testing.T) {
		identity, err := VerifyUser(ctx, srv.URL, "host", "#secret1", "abcdefghij", "lamb", false)
		require.NoError(t, err)
		assert.Equal(t, "trip1", identity.Tripcode)
		assert.Equal(t, "music room", identity.RoomName)
	})

	t.Run("Hidden room skips checks", func(t *testing.T) {
		identity, err := VerifyUser(ctx, srv.URL, "host", "#secret1", "zzzzzzzzzz", "lamb", true)
		require.NoError(t, err)
		assert.Equal(t, HiddenRoomName, identity.RoomName)
	})

	t.Run("Unknown room", func(t *testing.T) {
		_, err := VerifyUser(ctx, srv.URL, "host", "#secret1", "zzzzzzzzzz", "lamb", false)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Room not found", apiErr.Message)
	})

	t.Run("Requester is not host", func(t *testing.T) {
		fake.lounge.Profile.Name = "guest"
		fake.lounge.Profile.Tripcode = "trip2"
		_, err := VerifyUser(ctx, srv.URL, "guest", "#secret1", "abcdefghij", "lamb", false)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "User must be host of the room", apiErr.Message)
		fake.lounge.Profile.Name = "host"
		fake.lounge.Profile.Tripcode = "trip1"
	})

	t.Run("Bot name collision", func(t *testing.T) {
		_, err := VerifyUser(ctx, srv.URL, "host", "#secret1", "abcdefghij", "guest", false)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "User with bot name already in the room", apiErr.Message)
	})

	t.Run("Room full", func(t *testing.T) {
		fake.lounge.Rooms[0].Total = 5
		_, err := VerifyUser(ctx, srv.URL, "host", "#secret1", "abcdefghij", "lamb", false)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Room is full", apiErr.Message)
		fake.lounge.Rooms[0].Total = 2
	})
}
