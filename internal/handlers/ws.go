package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/cleanops/fieldsync/internal/coordinator"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is the UI layer on the same device.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotStream pushes coordinator snapshots to the UI layer over a
// websocket so banners and pending-count badges update without polling.
type SnapshotStream struct {
	coord *coordinator.Coordinator
}

// NewSnapshotStream creates a snapshot stream handler
func NewSnapshotStream(coord *coordinator.Coordinator) *SnapshotStream {
	return &SnapshotStream{coord: coord}
}

// RegisterRoutes registers the websocket route
func (ss *SnapshotStream) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/ws", ss.Serve)
}

// Serve upgrades the connection and streams snapshots until the peer
// goes away or unsubscribes by closing.
func (ss *SnapshotStream) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	snapshots := make(chan coordinator.Snapshot, 8)
	unsubscribe := ss.coord.Subscribe(func(s coordinator.Snapshot) {
		select {
		case snapshots <- s:
		default: // UI is slow; drop intermediate snapshots
		}
	})
	defer unsubscribe()

	// Send the current state immediately so the UI never renders blank.
	if err := writeSnapshot(conn, ss.coord.GetSnapshot()); err != nil {
		return
	}

	// Discard inbound frames; this stream is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snapshot := <-snapshots:
			if err := writeSnapshot(conn, snapshot); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snapshot coordinator.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snapshot)
}
