package preview

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatsFunc returns the JSON-encodable statistics pushed to /stats.
type StatsFunc func() any

// HandleStats upgrades to a websocket and pushes stats every interval until
// the client goes away or done is closed.
func HandleStats(w http.ResponseWriter, r *http.Request, stats StatsFunc, interval time.Duration, done <-chan struct{}) {
	log := logrus.WithFields(logrus.Fields{"component": "stats", "remote": r.RemoteAddr})

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade error")
		return
	}
	defer ws.Close()
	log.Debug("Stats client connected")

	// the reader notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := ws.WriteJSON(stats()); err != nil {
			log.WithError(err).Debug("Stats client write failed")
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-done:
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		}
	}
}
