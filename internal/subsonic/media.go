package subsonic

import (
	"net/url"
	"strconv"
	"strings"
)

// Media endpoints are not queue operations: the URLs are handed to the
// playback engine and the external download manager, which fetch the bytes
// themselves.

// StreamURL derives the transcoded streaming URL for a remote track.
func StreamURL(baseURL string, creds Credentials, trackID string, maxBitRate int) (string, error) {
	return mediaURL(baseURL, creds, "rest/stream.view", trackID, maxBitRate)
}

// DownloadURL derives the original-file download URL for a remote track.
func DownloadURL(baseURL string, creds Credentials, trackID string, maxBitRate int) (string, error) {
	return mediaURL(baseURL, creds, "rest/download.view", trackID, maxBitRate)
}

func mediaURL(baseURL string, creds Credentials, cmd, trackID string, maxBitRate int) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
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
	q.Set("id", trackID)
	if maxBitRate > 0 {
		q.Set("maxBitRate", strconv.Itoa(maxBitRate))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}
