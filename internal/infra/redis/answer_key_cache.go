package redis

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"omr-scan-service/internal/domain"
)

// Loader fetches answer keys from the backing store on cache miss.
type Loader interface {
	AnswerKey(ctx context.Context, examID string) (domain.AnswerKey, error)
}

// AnswerKeyCache caches answer keys in Redis (hashes per exam) and falls back
// to a loader on cache miss.
// Answers are stored as: HSET exam:{examID}:answers {questionID} {correct}
// Points are stored as:  HSET exam:{examID}:points  {questionID} {points}
// The policy lives in:   HSET exam:{examID}:policy  {field} {value}
type AnswerKeyCache struct {
	client *redis.Client
	loader Loader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewAnswerKeyCache(client *redis.Client, loader Loader, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnswerKeyCache) AnswerKey(ctx context.Context, examID string) (domain.AnswerKey, error) {
	if key, ok := c.fromCache(ctx, examID); ok {
		return key, nil
	}

	result, err, _ := c.sf.Do(examID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if key, ok := c.fromCache(ctx, examID); ok {
			return key, nil
		}

		key, err := c.loader.AnswerKey(ctx, examID)
		if err != nil {
			return domain.AnswerKey{}, err
		}

		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		for _, a := range key.Answers {
			field := strconv.Itoa(a.QuestionID)
			pipe.HSet(ctx, c.answersKey(examID), field, a.Correct)
			pipe.HSet(ctx, c.pointsKey(examID), field, strconv.FormatFloat(a.Points, 'f', -1, 64))
		}
		pipe.HSet(ctx, c.policyKey(examID),
			"partial_credit", boolField(key.Policy.PartialCredit),
			"penalty_incorrect", strconv.FormatFloat(key.Policy.PenaltyIncorrect, 'f', -1, 64),
			"require_manual_review_on_ambiguity", boolField(key.Policy.RequireManualReviewOnAmbiguity),
		)
		if ttl > 0 {
			pipe.Expire(ctx, c.answersKey(examID), ttl)
			pipe.Expire(ctx, c.pointsKey(examID), ttl)
			pipe.Expire(ctx, c.policyKey(examID), ttl)
		}
		_, _ = pipe.Exec(ctx)

		return key, nil
	})
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return result.(domain.AnswerKey), nil
}

func (c *AnswerKeyCache) fromCache(ctx context.Context, examID string) (domain.AnswerKey, bool) {
	answers, err := c.client.HGetAll(ctx, c.answersKey(examID)).Result()
	if err != nil || len(answers) == 0 {
		return domain.AnswerKey{}, false
	}
	points, _ := c.client.HGetAll(ctx, c.pointsKey(examID)).Result()
	policy, _ := c.client.HGetAll(ctx, c.policyKey(examID)).Result()
	return buildKeyFromCache(examID, answers, points, policy), true
}

// buildKeyFromCache reassembles a key in its lightweight cached form; the
// display name and template reference are not cached.
func buildKeyFromCache(examID string, answers, points, policy map[string]string) domain.AnswerKey {
	key := domain.AnswerKey{ExamID: examID}
	for field, correct := range answers {
		questionID, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pts := 1.0
		if raw, ok := points[field]; ok {
			if p, err := strconv.ParseFloat(raw, 64); err == nil && p >= 0 {
				pts = p
			}
		}
		key.Answers = append(key.Answers, domain.Answer{QuestionID: questionID, Correct: correct, Points: pts})
	}
	sort.Slice(key.Answers, func(i, j int) bool { return key.Answers[i].QuestionID < key.Answers[j].QuestionID })

	key.Policy.PartialCredit = policy["partial_credit"] == "1"
	key.Policy.RequireManualReviewOnAmbiguity = policy["require_manual_review_on_ambiguity"] == "1"
	if p, err := strconv.ParseFloat(policy["penalty_incorrect"], 64); err == nil {
		key.Policy.PenaltyIncorrect = p
	}
	return key
}

func (c *AnswerKeyCache) answersKey(examID string) string {
	return "exam:" + examID + ":answers"
}

func (c *AnswerKeyCache) pointsKey(examID string) string {
	return "exam:" + examID + ":points"
}

func (c *AnswerKeyCache) policyKey(examID string) string {
	return "exam:" + examID + ":policy"
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
