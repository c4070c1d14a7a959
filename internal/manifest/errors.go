package manifest

import "errors"

var (
	ErrUnsupported          = errors.New("manifest uses features the native downloader does not support")
	ErrInitSegmentMisplaced = errors.New("initialization fragment found after media fragments")
	ErrMasterPlaylist       = errors.New("master playlist given where a media playlist was expected")
	ErrMalformed            = errors.New("malformed manifest directive")
	ErrNoFragments          = errors.New("manifest contains no fragments")
)
