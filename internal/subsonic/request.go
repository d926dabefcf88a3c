package subsonic

import (
	"fmt"
	"net/url"
	"strings"
)

// Operation enumerates the logical server calls the client can issue.
type Operation int

const (
	OpPing Operation = iota
	OpGetLicense
	OpGetIndexes
	OpGetArtists
	OpGetArtist
	OpGetAlbum
	OpGetAlbumList
	OpGetCoverArt
	OpGetPlaylists
	OpGetPlaylist
	OpCreatePlaylist
	OpUpdatePlaylist
	OpDeletePlaylist
	OpGetPodcasts
	OpGetNowPlaying
	OpGetUser
	OpSearch
	OpSetRating
	OpScrobble
	OpStartScan
	OpGetScanStatus
)

// command maps each operation onto its REST endpoint.
var command = map[Operation]string{
	OpPing:           "rest/ping.view",
	OpGetLicense:     "rest/getLicense.view",
	OpGetIndexes:     "rest/getIndexes.view",
	OpGetArtists:     "rest/getArtists.view",
	OpGetArtist:      "rest/getArtist.view",
	OpGetAlbum:       "rest/getAlbum.view",
	OpGetAlbumList:   "rest/getAlbumList2.view",
	OpGetCoverArt:    "rest/getCoverArt.view",
	OpGetPlaylists:   "rest/getPlaylists.view",
	OpGetPlaylist:    "rest/getPlaylist.view",
	OpCreatePlaylist: "rest/createPlaylist.view",
	OpUpdatePlaylist: "rest/updatePlaylist.view",
	OpDeletePlaylist: "rest/deletePlaylist.view",
	OpGetPodcasts:    "rest/getPodcasts.view",
	OpGetNowPlaying:  "rest/getNowPlaying.view",
	OpGetUser:        "rest/getUser.view",
	OpSearch:         "rest/search3.view",
	OpSetRating:      "rest/setRating.view",
	OpScrobble:       "rest/scrobble.view",
	OpStartScan:      "rest/startScan.view",
	OpGetScanStatus:  "rest/getScanStatus.view",
}

func (o Operation) String() string {
	if cmd, ok := command[o]; ok {
		name := strings.TrimPrefix(cmd, "rest/")
		return strings.TrimSuffix(name, ".view")
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// QueryItem is one repeated query parameter; order is preserved on the wire.
type QueryItem struct {
	Name  string
	Value string
}

// Request describes one logical server call: the operation kind, its named
// parameters, any repeated parameters (songId lists), and the target server.
// Requests are immutable once built; the reconciler receives Params back
// verbatim as the operation's entity context.
type Request struct {
	Op       Operation
	ServerID string
	Params   map[string]string
	Repeat   []QueryItem

	// Binary marks operations whose success body is raw bytes (cover art)
	// rather than an XML/JSON envelope.
	Binary bool
}

// NewRequest builds a descriptor for op against serverID. The params map is
// copied so the descriptor cannot be mutated through the original.
func NewRequest(op Operation, serverID string, params map[string]string, repeat ...QueryItem) *Request {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &Request{
		Op:       op,
		ServerID: serverID,
		Params:   p,
		Repeat:   repeat,
		Binary:   op == OpGetCoverArt,
	}
}

// Param returns a named parameter, empty when absent.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// URL assembles the full request URL for the given server base URL and
// authentication credentials.
func (r *Request) URL(baseURL string, creds Credentials) (string, error) {
	cmd, ok := command[r.Op]
	if !ok {
		return "", fmt.Errorf("unknown operation %d", int(r.Op))
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + cmd

	auth, err := creds.queryItems()
	if err != nil {
		return "", err
	}

	q := url.Values{}
	for _, item := range auth {
		q.Add(item.Name, item.Value)
	}
	for k, v := range r.Params {
		q.Set(k, v)
	}
	for _, item := range r.Repeat {
		q.Add(item.Name, item.Value)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}
