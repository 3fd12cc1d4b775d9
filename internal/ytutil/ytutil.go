package ytutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type InputKind string

const (
	Unresolved  = InputKind("unresolved")
	CanonicalID = InputKind("canonical_id")
	Handle      = InputKind("handle")
)

// ChannelInput is what a user typed to name a channel, normalized. Value is
// the channel id for CanonicalID, the handle without "@" for Handle, and the
// trimmed text otherwise.
type ChannelInput struct {
	Kind  InputKind
	Value string
}

// Query is the text to hand to a remote channel search.
func (c ChannelInput) Query() string {
	if c.Kind == Handle {
		return "@" + c.Value
	}

	return c.Value
}

var canonicalIDPattern = regexp.MustCompile(`^UC[\w-]{22}$`)

func IsChannelID(s string) bool {
	return canonicalIDPattern.MatchString(s)
}

type channelMatcher struct {
	re   *regexp.Regexp
	kind InputKind
}

// checked in order; the first match wins
var channelMatchers = []channelMatcher{
	{regexp.MustCompile(`^(UC[\w-]{22})$`), CanonicalID},
	{regexp.MustCompile(`youtube\.com/channel/(UC[\w-]+)`), CanonicalID},
	{regexp.MustCompile(`youtube\.com/@([^/?#\s]+)`), Handle},
	{regexp.MustCompile(`youtube\.com/c/([\w\-.]+)`), Unresolved},
	{regexp.MustCompile(`youtube\.com/user/([\w\-.]+)`), Unresolved},
	{regexp.MustCompile(`^@([^/?#\s]+)$`), Handle},
}

// ParseChannelInput recognizes channel ids, channel URLs and handles. Legacy
// /c/ and /user/ names and free text can only be resolved by a search, so
// they come back Unresolved.
func ParseChannelInput(input string) (ChannelInput, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return ChannelInput{}, fmt.Errorf("ytutil.ParseChannelInput: empty input")
	}

	for _, m := range channelMatchers {
		if match := m.re.FindStringSubmatch(input); match != nil {
			value := match[1]
			if m.kind == Handle {
				if unescaped, err := url.PathUnescape(value); err == nil {
					value = unescaped
				}
			}

			return ChannelInput{Kind: m.kind, Value: value}, nil
		}
	}

	return ChannelInput{Kind: Unresolved, Value: strings.TrimPrefix(input, "@")}, nil
}

func ChannelURL(id string) string {
	return "https://www.youtube.com/channel/" + id
}

func VideoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func HandleURL(handle string) string {
	return "https://www.youtube.com/@" + url.PathEscape(strings.TrimPrefix(handle, "@"))
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// parseYouTubeURL returns u when s is an absolute url on one of the
// youtube.com hosts, youtu.be included.
func parseYouTubeURL(s string) (*url.URL, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return nil, false
	}

	if !youtubeHosts[u.Host] && u.Host != "youtu.be" {
		return nil, false
	}

	return u, true
}

var (
	playlistIDPattern = regexp.MustCompile(`^[\w-]+$`)
	videoIDPattern    = regexp.MustCompile(`^[\w-]{11}$`)
)

var playlistPrefixes = []string{"PL", "UU", "FL", "OL", "LL", "RD"}

// ExtractPlaylistID accepts a bare playlist id, or any youtube url with a
// list parameter.
func ExtractPlaylistID(urlOrID string) (string, error) {
	id := strings.TrimSpace(urlOrID)

	if u, ok := parseYouTubeURL(id); ok {
		id = u.Query().Get("list")
		if id == "" {
			return "", fmt.Errorf("ytutil.ExtractPlaylistID: no list parameter in %s", u.Redacted())
		}
	}

	if id == "" {
		return "", fmt.Errorf("ytutil.ExtractPlaylistID: empty input")
	}

	if !playlistIDPattern.MatchString(id) {
		return "", fmt.Errorf("ytutil.ExtractPlaylistID: %q contains characters a playlist id can not", id)
	}

	for _, prefix := range playlistPrefixes {
		if strings.HasPrefix(id, prefix) {
			return id, nil
		}
	}

	if len(id) == 34 || len(id) == 41 {
		return id, nil
	}

	return "", fmt.Errorf("ytutil.ExtractPlaylistID: %q does not look like a playlist id", id)
}

// ExtractVideoID accepts a bare eleven character id, a watch or shorts url,
// or a youtu.be link.
func ExtractVideoID(urlOrID string) (string, error) {
	s := strings.TrimSpace(urlOrID)
	if videoIDPattern.MatchString(s) {
		return s, nil
	}

	u, ok := parseYouTubeURL(s)
	if !ok {
		return "", fmt.Errorf("ytutil.ExtractVideoID: %q is neither a video id nor a youtube url", s)
	}

	var id string

	switch {
	case u.Host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case u.Path == "/watch":
		id = u.Query().Get("v")
	case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/live/"), strings.HasPrefix(u.Path, "/embed/"):
		id = strings.Trim(u.Path[strings.Index(u.Path[1:], "/")+1:], "/")
	}

	if id == "" {
		return "", fmt.Errorf("ytutil.ExtractVideoID: no video id in %s", u.Redacted())
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("ytutil.ExtractVideoID: %q is not a valid video id", id)
	}

	return id, nil
}
