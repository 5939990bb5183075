package audit

import (
	"time"

	"github.com/jwalitptl/authz-api/internal/model"
)

// each calls fn for buffered entries from newest to oldest until fn returns
// false. Caller must hold l.mu.
func (l *Logger) each(fn func(*model.AuditLog) bool) {
	size := len(l.ring)
	for i := l.count - 1; i >= 0; i-- {
		if !fn(l.ring[(l.head+i)%size]) {
			return
		}
	}
}

// Query returns copies of buffered entries matching filter, newest first
func (l *Logger) Query(filter model.AuditFilter) []model.AuditLog {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.AuditLog, 0)
	l.each(func(e *model.AuditLog) bool {
		if filter.Match(e) {
			out = append(out, e.Clone())
		}
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out
}

// Statistics aggregates buffered entries inside tr. The counts agree with
// Query over the same range.
func (l *Logger) Statistics(tr model.TimeRange) model.AuditStats {
	stats := model.AuditStats{
		ByAction:   make(map[string]int),
		ByResource: make(map[string]int),
		ByUser:     make(map[string]int),
	}
	filter := model.AuditFilter{StartTime: tr.Start, EndTime: tr.End}

	l.mu.RLock()
	defer l.mu.RUnlock()

	l.each(func(e *model.AuditLog) bool {
		if !filter.Match(e) {
			return true
		}
		stats.TotalLogs++
		if e.Status == model.AuditStatusSuccess {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		stats.ByAction[e.Action]++
		stats.ByResource[e.Resource]++
		stats.ByUser[e.UserID]++
		return true
	})
	return stats
}

// ClearOldLogs removes buffered entries older than daysToKeep days and
// returns how many were removed. It is the only deletion path for the buffer.
func (l *Logger) ClearOldLogs(daysToKeep int) int {
	if daysToKeep < 0 {
		daysToKeep = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	size := len(l.ring)

	kept := make([]*model.AuditLog, 0, l.count)
	for i := 0; i < l.count; i++ {
		e := l.ring[(l.head+i)%size]
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := l.count - len(kept)
	if removed == 0 {
		return 0
	}

	ring := make([]*model.AuditLog, size)
	copy(ring, kept)
	l.ring = ring
	l.head = 0
	l.count = len(kept)

	if l.m != nil {
		l.m.AuditPurged.Add(float64(removed))
		l.m.AuditBufferSize.Set(float64(l.count))
	}
	return removed
}

// Len returns the number of buffered entries
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
