package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/ilyaf835/lamb2-dev/internal/v1/player"
)

const (
	watchBaseURL = "https://www.youtube.com/watch?v="
	searchLimit  = 3

	// lookupTimeout bounds one yt-dlp run. Lookups hang on throttled
	// networks, and the bot side has no timeout of its own.
	lookupTimeout = 60 * time.Second
)

// A video id is 11 characters; the last one is constrained because ids are
// base64-coded 64-bit numbers, so the final character carries only 2 bits.
const videoIDPattern = `[0-9A-Za-z_-]{10}[048AEIMQUYcgkosw]`

var (
	videoIDRe  = regexp.MustCompile(`^` + videoIDPattern)
	videoURLRe = regexp.MustCompile(
		`^(?:https?://)?` +
			`(?:(?:www\.)?youtube\.com/(?:embed/|watch\?v=)` +
			`|(?:m\.|music\.)youtube\.com/watch\?v=` +
			`|youtu\.be/)` +
			videoIDPattern + `.*$`)
)

// videoInfo mirrors the subset of yt-dlp's JSON output the player needs.
type videoInfo struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Duration        float64     `json:"duration"`
	WebpageURL      string      `json:"webpage_url"`
	URL             string      `json:"url"`
	FragmentBaseURL string      `json:"fragment_base_url"`
	Entries         []videoInfo `json:"entries"`
}

// YtDlp shells out to the yt-dlp binary for metadata lookups. It is safe
// for one lookup at a time; the server pools several instances.
type YtDlp struct {
	bin string
}

func NewYtDlp(bin string) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{bin: bin}
}

// validateURL accepts a full video URL as-is and prefixes a bare video id
// with the watch URL.
func (y *YtDlp) validateURL(url string) (string, error) {
	if videoURLRe.MatchString(url) {
		return url, nil
	}
	if videoIDRe.MatchString(url) {
		return watchBaseURL + url, nil
	}
	return "", &InvalidURLError{}
}

func (y *YtDlp) lookup(target string) (*videoInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, y.bin,
		"--dump-single-json",
		"--format", "bestaudio",
		"--no-playlist",
		"--no-check-certificates",
		"--simulate",
		"--quiet",
		target)
	out, err := cmd.Output()
	if err != nil {
		return nil, &InfoExtractionError{}
	}
	var info videoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, &InfoExtractionError{}
	}
	return &info, nil
}

// parseTrack flattens one info document into a track. Search-style results
// nest the video under entries.
func parseTrack(info *videoInfo) player.Track {
	if len(info.Entries) > 0 {
		info = &info.Entries[0]
	}
	stream := info.FragmentBaseURL
	if stream == "" {
		stream = info.URL
	}
	return player.Track{
		Title:     info.Title,
		Duration:  time.Duration(info.Duration * float64(time.Second)),
		OriginID:  info.ID,
		OriginURL: info.WebpageURL,
		StreamURL: stream,
	}
}

func (y *YtDlp) Extract(url string) (player.Track, error) {
	target, err := y.validateURL(url)
	if err != nil {
		return player.Track{}, err
	}
	info, err := y.lookup(target)
	if err != nil {
		return player.Track{}, err
	}
	return parseTrack(info), nil
}

func (y *YtDlp) Search(text string) ([]player.Track, error) {
	info, err := y.lookup(fmt.Sprintf("ytsearch%d:%s", searchLimit, text))
	if err != nil {
		return nil, err
	}
	tracks := make([]player.Track, 0, len(info.Entries))
	for i := range info.Entries {
		tracks = append(tracks, parseTrack(&info.Entries[i]))
	}
	return tracks, nil
}
