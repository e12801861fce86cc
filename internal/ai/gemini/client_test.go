package gemini

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/job-radar/internal/ai"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ai.ErrorKind
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, ai.KindTransient},
		{"request timeout", genai.APIError{Code: 408, Message: "timeout"}, ai.KindTransient},
		{"server error", genai.APIError{Code: 503, Message: "unavailable"}, ai.KindTransient},
		{"bad request", genai.APIError{Code: 400, Message: "invalid"}, ai.KindPermanent},
		{"unauthorized", genai.APIError{Code: 401, Message: "key"}, ai.KindPermanent},
		{"not found", genai.APIError{Code: 404, Message: "model"}, ai.KindPermanent},
		{"plain network error", errors.New("connection reset"), ai.KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			classified := classify("generate", tc.err)

			var aiErr *ai.Error
			if !errors.As(classified, &aiErr) {
				t.Fatalf("expected *ai.Error, got %T", classified)
			}
			if aiErr.Kind != tc.want {
				t.Fatalf("expected kind %s, got %s", tc.want, aiErr.Kind)
			}
			if !errors.Is(classified, tc.err) && !errors.As(classified, &genai.APIError{}) {
				t.Fatalf("classified error lost its cause: %v", classified)
			}
		})
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), Config{APIKey: "  "}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestUninitializedClientIsPermanent(t *testing.T) {
	t.Parallel()

	var client *Client

	if _, err := client.GenerateContent(context.Background(), "hi"); !ai.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if _, err := client.EmbedBatch(context.Background(), []string{"hi"}); !ai.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
