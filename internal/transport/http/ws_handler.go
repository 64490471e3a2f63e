package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"omr-scan-service/internal/app"
)

// WSHandler streams scan status transitions over a websocket, a push
// alternative to polling GET /scans/{id}.
type WSHandler struct {
	service  *app.ScanService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ScanService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type wsError struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and streams status events for one scan,
// starting with the current snapshot status.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		http.Error(w, "missing scan_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	rec, err := h.service.GetScan(r.Context(), scanID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[wsError]{Type: "error", Payload: wsError{Message: err.Error()}})
		return
	}

	events, cancel := h.service.Watch().Subscribe(scanID)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := app.StatusEvent{ScanID: rec.ID, Status: rec.Status, UpdatedAt: rec.UpdatedAt}
	if err := conn.WriteJSON(outboundMessage[app.StatusEvent]{Type: "status", Payload: initial}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage[app.StatusEvent]{Type: "status", Payload: ev}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
