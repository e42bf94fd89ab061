package server

import (
	"sync"

	"github.com/decred/slog"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

// historyKeep bounds the in-memory record ring.
const historyKeep = 256

// HistoryLog is the default history collaborator: it logs every terminal
// session and keeps a bounded in-memory ring for the recent-matches
// query. The engine treats it as fire-and-forget.
type HistoryLog struct {
	mu      sync.Mutex
	records []ponggame.SessionRecord

	log slog.Logger
}

func NewHistoryLog(log slog.Logger) *HistoryLog {
	return &HistoryLog{log: log}
}

// RecordSession implements ponggame.HistoryRecorder.
func (h *HistoryLog) RecordSession(rec ponggame.SessionRecord) {
	h.mu.Lock()
	h.records = append(h.records, rec)
	if len(h.records) > historyKeep {
		h.records = h.records[len(h.records)-historyKeep:]
	}
	h.mu.Unlock()

	switch {
	case rec.Cancelled:
		h.log.Infof("session %s (%s) cancelled before a result", rec.SessionID, rec.Mode)
	case rec.Forfeit:
		h.log.Infof("session %s (%s) won by %q on forfeit, score %d-%d",
			rec.SessionID, rec.Mode, rec.Nicks[rec.WinnerSlot-1], rec.Score[0], rec.Score[1])
	default:
		h.log.Infof("session %s (%s) won by %q, score %d-%d",
			rec.SessionID, rec.Mode, rec.Nicks[rec.WinnerSlot-1], rec.Score[0], rec.Score[1])
	}
}

// Recent returns up to n most recent records, newest first.
func (h *HistoryLog) Recent(n int) []ponggame.SessionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]ponggame.SessionRecord, 0, n)
	for i := len(h.records) - 1; i >= len(h.records)-n; i-- {
		out = append(out, h.records[i])
	}
	return out
}
