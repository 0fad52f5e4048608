package bridge

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/elfolz/robot/internal/conversation"
	"github.com/elfolz/robot/internal/logging"
)

// HistoryHandler serves the recent conversation as JSON. ?limit=n caps it.
func HistoryHandler(history *conversation.History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, history.Recent(limit(r)))
	}
}

// LogsHandler serves the in-memory log history as JSON.
func LogsHandler(logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger.GetHistory(limit(r)))
	}
}

func limit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
