// Package extractor implements the media-info lookup subprocess and its
// client. The server owns a pool of extractors behind a TCP listener; each
// request is one length-prefixed msgpack frame carrying a verb and its
// payload, answered by a result-or-error frame. Bots talk to it through
// Client, one long-lived connection with a single in-flight request.
package extractor

import (
	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
)

// RPC verbs.
const (
	VerbExtract  = "extract"
	VerbSearch   = "search"
	VerbShutdown = "shutdown"
)

// Extractor resolves media URLs and search queries into playable tracks.
type Extractor interface {
	Extract(url string) (player.Track, error)
	Search(text string) ([]player.Track, error)
}

// request is one framed RPC call.
type request struct {
	Verb string `msgpack:"verb"`
	Text string `msgpack:"text,omitempty"`
}

// response carries the result of a call. Error is the message of a known
// failure kind; the client re-raises it as a user-facing error.
type response struct {
	Track  *player.Track  `msgpack:"track,omitempty"`
	Tracks []player.Track `msgpack:"tracks,omitempty"`
	Error  string         `msgpack:"error,omitempty"`
}

// InvalidURLError rejects input that is neither a known video URL nor a
// bare video id.
type InvalidURLError struct{}

func (e *InvalidURLError) Error() string { return "Invalid url was provided" }

// InfoExtractionError covers lookup failures inside the extractor tool.
type InfoExtractionError struct{}

func (e *InfoExtractionError) Error() string { return "Extractor failed to extract video info" }
