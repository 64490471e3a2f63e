package ingest_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"omr-scan-service/internal/app"
	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/infra/memory"
	"omr-scan-service/internal/ingest"
)

func newService() (*app.ScanService, *memory.ScanRepository) {
	scans := memory.NewScanRepository()
	keys := memory.NewAnswerKeyStore(map[string]domain.AnswerKey{
		"exam-1": {
			ExamID: "exam-1",
			Answers: []domain.Answer{
				{QuestionID: 1, Correct: "A", Points: 1},
				{QuestionID: 2, Correct: "B", Points: 1},
			},
		},
	})
	return app.NewScanService(scans, memory.NewQueue(16), keys), scans
}

func waitForStatus(t *testing.T, service *app.ScanService, id string, want domain.ScanStatus) domain.ScanRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := service.GetScan(context.Background(), id)
		if err == nil && rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := service.GetScan(context.Background(), id)
	t.Fatalf("scan %s never reached %s (last status %s)", id, want, rec.Status)
	return domain.ScanRecord{}
}

func TestConsumerAppliesResultAndGrades(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()
	results := memory.NewQueue(16)

	rec, err := service.CreateScan(ctx, app.CreateScanRequest{
		ExamID: "exam-1", StudentID: "stu-1", ClassID: "class-1",
		TemplateID: "form_A", ImagePath: "sheet.jpg",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	consumer := ingest.NewConsumer(results, service, 20*time.Millisecond, 10*time.Millisecond)
	consumer.Start()
	defer consumer.Stop()

	payload, _ := json.Marshal(domain.DetectionResult{
		ScanID:     rec.ID,
		TemplateID: "form_A",
		Status:     domain.ResultSuccess,
		Detections: []domain.QuestionDetection{
			{QuestionID: 1, Selected: []string{"A"}, DetectionStatus: domain.DetectionAnswered},
			{QuestionID: 2, Selected: []string{"B"}, DetectionStatus: domain.DetectionAnswered},
		},
	})
	if err := results.Push(ctx, payload); err != nil {
		t.Fatalf("push: %v", err)
	}

	graded := waitForStatus(t, service, rec.ID, domain.StatusGraded)
	if graded.Grading == nil || graded.Grading.Summary.PointsEarned != 2 {
		t.Fatalf("expected full marks, got %+v", graded.Grading)
	}
}

func TestConsumerSurvivesMalformedAndUnknownMessages(t *testing.T) {
	ctx := context.Background()
	service, _ := newService()
	results := memory.NewQueue(16)

	rec, err := service.CreateScan(ctx, app.CreateScanRequest{
		ExamID: "exam-1", StudentID: "stu-1", ClassID: "class-1",
		TemplateID: "form_A", ImagePath: "sheet.jpg",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	consumer := ingest.NewConsumer(results, service, 20*time.Millisecond, 5*time.Millisecond)
	consumer.Start()
	defer consumer.Stop()

	// A parse error skips only the offending message.
	_ = results.Push(ctx, []byte("{not json"))
	// An unmatched record is dropped without retry.
	unknown, _ := json.Marshal(domain.DetectionResult{ScanID: "scan-deleted", Status: domain.ResultSuccess})
	_ = results.Push(ctx, unknown)

	good, _ := json.Marshal(domain.DetectionResult{
		ScanID: rec.ID,
		Status: domain.ResultNeedsReview,
		Detections: []domain.QuestionDetection{
			{QuestionID: 1, Selected: []string{"A", "B"}, DetectionStatus: domain.DetectionAmbiguous},
			{QuestionID: 2, Selected: []string{"B"}, DetectionStatus: domain.DetectionAnswered},
		},
	})
	_ = results.Push(ctx, good)

	got := waitForStatus(t, service, rec.ID, domain.StatusNeedsReview)
	if got.Grading == nil || !got.Grading.NeedsManualReview {
		t.Fatalf("expected needs-review grading, got %+v", got.Grading)
	}
}

func TestConsumerStops(t *testing.T) {
	service, _ := newService()
	consumer := ingest.NewConsumer(memory.NewQueue(1), service, 20*time.Millisecond, 5*time.Millisecond)
	consumer.Start()

	done := make(chan struct{})
	go func() {
		consumer.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop")
	}
}
