// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import "expvar"

// Stats is a point-in-time snapshot of Manager's bookkeeping, returned by
// Manager.Report.
type Stats struct {
	TotalBytes int64
	FreeBytes  int64
	UsedBytes  int64
	Regions    int
}

// Report returns a Stats snapshot. It is safe to call concurrently with
// Allocate/Free; the snapshot itself is not atomic across its three reads,
// since it is diagnostic rather than transactional.
func (m *Manager) Report() Stats {
	total := m.ReportTotalBytes()
	free := m.ReportFreeBytes()

	m.mu.RLock()
	regions := len(m.regions)
	m.mu.RUnlock()

	return Stats{
		TotalBytes: total,
		FreeBytes:  free,
		UsedBytes:  total - free,
		Regions:    regions,
	}
}

// Published expvar counters, in the style of the standard library's own
// runtime/debug integrations: a process hosting a gomalloc.Manager can
// expose these on its existing /debug/vars handler without extra wiring.
var (
	expvarTotalBytes = expvar.NewInt("gomalloc_total_bytes")
	expvarFreeBytes  = expvar.NewInt("gomalloc_free_bytes")
	expvarRegions    = expvar.NewInt("gomalloc_regions")
)

// PublishStats copies a Stats snapshot into the package's expvar counters.
// Callers that want live /debug/vars visibility into a Manager should call
// this periodically (e.g. from the same loop that already polls runtime
// metrics); gomalloc does not start a background goroutine of its own.
func PublishStats(s Stats) {
	expvarTotalBytes.Set(s.TotalBytes)
	expvarFreeBytes.Set(s.FreeBytes)
	expvarRegions.Set(int64(s.Regions))
}
