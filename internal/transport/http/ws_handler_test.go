package http

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"omr-scan-service/internal/app"
	"omr-scan-service/internal/domain"
)

func dialWS(t *testing.T, serverURL, scanID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + serverURL[len("http"):] + "/ws/scans?scan_id=" + scanID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	return msg.Type, msg.Payload
}

func readStatus(t *testing.T, conn *websocket.Conn) app.StatusEvent {
	t.Helper()
	typ, payload := readNext(t, conn)
	if typ != "status" {
		t.Fatalf("expected status message, got %q (%s)", typ, payload)
	}
	var ev app.StatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode status event: %v", err)
	}
	return ev
}

func TestWSStreamsStatusTransitions(t *testing.T) {
	server, service := newTestServer(t)
	ctx := context.Background()

	created, err := service.CreateScan(ctx, app.CreateScanRequest{
		ExamID: "exam-1", StudentID: "stu-1", ClassID: "class-1",
		TemplateID: "form_A", ImagePath: "uploads/sheet.jpg",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := dialWS(t, server.URL, created.ID)

	initial := readStatus(t, conn)
	if initial.ScanID != created.ID || initial.Status != domain.StatusQueued {
		t.Fatalf("unexpected initial event %+v", initial)
	}

	err = service.ApplyDetectionResult(ctx, domain.DetectionResult{
		ScanID: created.ID,
		Status: domain.ResultSuccess,
		Detections: []domain.QuestionDetection{
			{QuestionID: 1, Selected: []string{"A"}, DetectionStatus: domain.DetectionAnswered},
			{QuestionID: 2, Selected: []string{"B"}, DetectionStatus: domain.DetectionAnswered},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	waitStatus(t, service, created.ID, domain.StatusGraded)

	next := readStatus(t, conn)
	if next.Status != domain.StatusGraded {
		t.Fatalf("expected graded event, got %+v", next)
	}
}

func TestWSUnknownScanReportsError(t *testing.T) {
	server, _ := newTestServer(t)

	conn := dialWS(t, server.URL, "scan-missing")
	typ, payload := readNext(t, conn)
	if typ != "error" {
		t.Fatalf("expected error message, got %q (%s)", typ, payload)
	}
}
