package downloader

import "errors"

var (
	ErrInterrupted  = errors.New("download interrupted")
	ErrFragmentPack = errors.New("failed to pack fragment")
)
