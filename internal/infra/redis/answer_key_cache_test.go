package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/infra/memory"
)

func sampleKey() domain.AnswerKey {
	return domain.AnswerKey{
		ExamID: "exam-1",
		Answers: []domain.Answer{
			{QuestionID: 1, Correct: "A", Points: 1},
			{QuestionID: 2, Correct: "B", Points: 2},
		},
		Policy: domain.GradingPolicy{
			PenaltyIncorrect:               0.5,
			RequireManualReviewOnAmbiguity: true,
		},
	}
}

type countingLoader struct {
	Loader
	calls int
}

func (l *countingLoader) AnswerKey(ctx context.Context, examID string) (domain.AnswerKey, error) {
	l.calls++
	return l.Loader.AnswerKey(ctx, examID)
}

func TestAnswerKeyCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		Loader: memory.NewAnswerKeyStore(map[string]domain.AnswerKey{"exam-1": sampleKey()}),
	}
	cache := NewAnswerKeyCache(newClient(mr), loader, time.Minute)

	first, err := cache.AnswerKey(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if first.TotalPoints() != 3 {
		t.Fatalf("unexpected key %+v", first)
	}

	// Second call should hit the cache.
	second, err := cache.AnswerKey(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}

	if len(second.Answers) != 2 || second.Answers[0].Correct != "A" || second.Answers[1].Points != 2 {
		t.Fatalf("cached key lost answers: %+v", second.Answers)
	}
	if !second.Policy.RequireManualReviewOnAmbiguity || second.Policy.PenaltyIncorrect != 0.5 {
		t.Fatalf("cached key lost policy: %+v", second.Policy)
	}
}

func TestAnswerKeyCacheMissPropagatesNotFound(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewAnswerKeyCache(newClient(mr), memory.NewAnswerKeyStore(nil), time.Minute)
	if _, err := cache.AnswerKey(context.Background(), "exam-missing"); err != domain.ErrAnswerKeyNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}
