// Package tuner derives TuningParams for a transfer from its workload shape
// and the link class between source and destination. It is a pure function
// of its inputs plus the physical core count — no I/O, no persisted state.
package tuner

import (
	"runtime"

	"github.com/roethlar/blit/pkg/types"
)

const (
	minWorkers = 2
	maxStreams = 16
	minStreams = 1

	minChunkBytes   = 256 * 1024
	maxChunkBytes   = 16 * 1024 * 1024
	localChunkBytes = 1 * 1024 * 1024

	minPrefetch = 1
	maxPrefetch = 4

	// largeFileThreshold marks a workload as "dominated by a few large
	// files" when the mean entry size clears it, biasing worker_count down
	// (fewer, larger sequential copies contend less over shared I/O) and up
	// otherwise (many small files parallelize well across workers).
	largeFileThreshold = 64 * 1024 * 1024

	// Per-link-class bandwidth/RTT assumptions used only to size
	// tcp_buffer_bytes to the bandwidth-delay product and to seed
	// stream_count; a real measurement (when the history store has one for
	// this profile) should supersede these in a future iteration.
	lanBandwidthBytesPerSec = 110 * 1024 * 1024 // ~1 GbE, realistic sustained
	lanRTTMillis            = 1
	wanBandwidthBytesPerSec = 12 * 1024 * 1024 // conservative WAN estimate
	wanRTTMillis            = 80
)

// Tuner implements types.Tuner with the heuristic bands described by the
// auto-tuner component: worker_count, stream_count, chunk_bytes,
// tcp_buffer_bytes and prefetch_count are all derived, never hand-set by the
// user for speed. workerOverride is the one exception — a hidden diagnostic
// knob, honoured verbatim when non-zero.
type Tuner struct {
	maxWorkers     int
	workerOverride int
}

// New returns a Tuner bounding worker_count to maxWorkers physical cores. A
// maxWorkers of 0 uses runtime.NumCPU(). workerOverride, when non-zero,
// forces worker_count to that exact value regardless of workload shape —
// the hidden `--workers` diagnostic limiter.
func New(maxWorkers, workerOverride int) *Tuner {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	return &Tuner{maxWorkers: maxWorkers, workerOverride: workerOverride}
}

func (t *Tuner) Tune(class types.LinkClass, key types.ProfileKey, fileCount, totalBytes uint64) types.TuningParams {
	params := types.TuningParams{
		WorkerCount:    t.workerCount(fileCount, totalBytes),
		StreamCount:    streamCount(class, totalBytes),
		ChunkBytes:     chunkBytes(class, totalBytes),
		TCPBufferBytes: tcpBufferBytes(class),
		PrefetchCount:  minPrefetch,
	}
	if class != types.LinkLocal {
		params.PrefetchCount = prefetchCount(params.StreamCount)
	}
	return params
}

func (t *Tuner) workerCount(fileCount, totalBytes uint64) int {
	if t.workerOverride > 0 {
		return t.workerOverride
	}
	if fileCount == 0 {
		return minWorkers
	}
	meanSize := totalBytes / fileCount
	workers := t.maxWorkers
	if meanSize >= largeFileThreshold {
		workers = t.maxWorkers / 2
	}
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > t.maxWorkers {
		workers = t.maxWorkers
	}
	return workers
}

func streamCount(class types.LinkClass, totalBytes uint64) int {
	if class == types.LinkLocal {
		return minStreams
	}
	// Scale with total bytes: a handful of MiB doesn't warrant opening 16
	// sockets, a multi-GiB transfer over a fat WAN link does.
	const gib = 1024 * 1024 * 1024
	streams := minStreams + int(totalBytes/(gib/2))
	if class == types.LinkWAN {
		streams *= 2
	}
	if streams < minStreams {
		streams = minStreams
	}
	if streams > maxStreams {
		streams = maxStreams
	}
	return streams
}

func chunkBytes(class types.LinkClass, totalBytes uint64) int {
	if class == types.LinkLocal {
		return localChunkBytes
	}
	bw, rtt := bandwidthDelayInputs(class)
	bdp := int(bw * (float64(rtt) / 1000))
	if bdp < minChunkBytes {
		bdp = minChunkBytes
	}
	if bdp > maxChunkBytes {
		bdp = maxChunkBytes
	}
	return bdp
}

func tcpBufferBytes(class types.LinkClass) int {
	if class == types.LinkLocal {
		return 0 // OS default; no remote socket involved.
	}
	bw, rtt := bandwidthDelayInputs(class)
	bdp := int(bw * (float64(rtt) / 1000))
	if bdp < minChunkBytes {
		bdp = minChunkBytes
	}
	return bdp
}

func prefetchCount(streamCount int) int {
	// More in-flight streams already hide latency; fewer read-ahead slots
	// are needed per stream to keep total outstanding bytes bounded.
	p := maxPrefetch - streamCount/8
	if p < minPrefetch {
		p = minPrefetch
	}
	if p > maxPrefetch {
		p = maxPrefetch
	}
	return p
}

func bandwidthDelayInputs(class types.LinkClass) (bandwidthBytesPerSec float64, rttMillis float64) {
	if class == types.LinkWAN {
		return wanBandwidthBytesPerSec, wanRTTMillis
	}
	return lanBandwidthBytesPerSec, lanRTTMillis
}
