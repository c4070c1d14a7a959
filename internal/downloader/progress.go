package downloader

import "time"

type Status string

const (
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished"
)

// Progress is reported after every completed fragment and once on finish.
// TotalBytesEstimate, Speed and ETA are zero when unknown; live streams never
// carry an estimate.
type Progress struct {
	Status             Status
	Filename           string
	DownloadedBytes    int64
	TotalBytesEstimate int64
	FragmentIndex      int
	FragmentCount      int
	Elapsed            time.Duration
	Speed              int64
	ETA                time.Duration
}

// ProgressFunc receives progress updates from the writer goroutine.
type ProgressFunc func(Progress)

// estimateTotal extrapolates the final size from the fragments done so far.
func estimateTotal(bytesBefore, fragBytes int64, fragmentsDone, totalFragments int) int64 {
	if totalFragments <= 0 {
		return 0
	}
	return int64(float64(bytesBefore+fragBytes) / float64(fragmentsDone+1) * float64(totalFragments))
}
