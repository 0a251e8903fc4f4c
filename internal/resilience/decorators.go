package resilience

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

type retryingEmbedder struct {
	domain.Embedder
	policy Policy
	log    logrus.FieldLogger
}

// Embedder wraps e so every Embed call runs under policy.
func Embedder(e domain.Embedder, policy Policy, log logrus.FieldLogger) domain.Embedder {
	return &retryingEmbedder{Embedder: e, policy: policy, log: log}
}

func (r *retryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.policy.Do(ctx, r.log, "embed", func(ctx context.Context) error {
		v, err := r.Embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

type limitedEmbedder struct {
	domain.Embedder
	limiter *rate.Limiter
}

// RateLimited throttles e to rps calls per second with the given burst.
// A non-positive rps returns e unchanged.
func RateLimited(e domain.Embedder, rps float64, burst int) domain.Embedder {
	if rps <= 0 {
		return e
	}
	if burst <= 0 {
		burst = 1
	}
	return &limitedEmbedder{Embedder: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Embedder.Embed(ctx, text)
}

type retryingChat struct {
	domain.ChatModel
	policy Policy
	log    logrus.FieldLogger
}

// ChatModel wraps c so every Chat call runs under policy.
func ChatModel(c domain.ChatModel, policy Policy, log logrus.FieldLogger) domain.ChatModel {
	return &retryingChat{ChatModel: c, policy: policy, log: log}
}

func (r *retryingChat) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	var out string
	err := r.policy.Do(ctx, r.log, "chat", func(ctx context.Context) error {
		s, err := r.ChatModel.Chat(ctx, messages)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

type retryingStorage struct {
	vectorstore.Storage
	policy Policy
	log    logrus.FieldLogger
}

// Storage wraps s so every operation except Close runs under policy.
// Upsert is safe to retry because records are keyed by ID.
func Storage(s vectorstore.Storage, policy Policy, log logrus.FieldLogger) vectorstore.Storage {
	return &retryingStorage{Storage: s, policy: policy, log: log}
}

func (r *retryingStorage) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	return r.policy.Do(ctx, r.log, "ensure_collection", func(ctx context.Context) error {
		return r.Storage.EnsureCollection(ctx, spec)
	})
}

func (r *retryingStorage) Clear(ctx context.Context) error {
	return r.policy.Do(ctx, r.log, "clear_collection", r.Storage.Clear)
}

func (r *retryingStorage) Upsert(ctx context.Context, records []domain.Record) error {
	return r.policy.Do(ctx, r.log, "upsert", func(ctx context.Context) error {
		return r.Storage.Upsert(ctx, records)
	})
}

func (r *retryingStorage) Query(ctx context.Context, vector []float32, topK int) ([]domain.QueryResult, error) {
	var out []domain.QueryResult
	err := r.policy.Do(ctx, r.log, "query", func(ctx context.Context) error {
		res, err := r.Storage.Query(ctx, vector, topK)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (r *retryingStorage) Count(ctx context.Context) (int, error) {
	var n int
	err := r.policy.Do(ctx, r.log, "count", func(ctx context.Context) error {
		c, err := r.Storage.Count(ctx)
		if err != nil {
			return err
		}
		n = c
		return nil
	})
	return n, err
}

func (r *retryingStorage) NextSequence(ctx context.Context) (uint64, error) {
	var next uint64
	err := r.policy.Do(ctx, r.log, "next_sequence", func(ctx context.Context) error {
		n, err := r.Storage.NextSequence(ctx)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	return next, err
}
