package engine

import "errors"

var (
	// ErrNoURLs is returned when Run is called without playlists.
	ErrNoURLs = errors.New("no playlist urls given")

	// ErrDRMProtected is returned for playlists using a key method that is
	// neither NONE nor AES-128.
	ErrDRMProtected = errors.New("playlist is DRM protected")

	// ErrCannotDelegate is returned when a playlist needs an external
	// downloader but carries a key url or segment query it could not use.
	ErrCannotDelegate = errors.New("playlist needs native decryption")

	// ErrManifestFetch wraps failures to download the playlist itself.
	ErrManifestFetch = errors.New("failed to fetch playlist")
)
