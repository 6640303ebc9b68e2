package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tao-dividends/internal/adapter"
	apperrors "github.com/tao-dividends/internal/errors"
)

// Score bounds
const (
	MinSentimentScore = -100.0
	MaxSentimentScore = 100.0
)

const (
	DefaultScoringModel = "unsloth/Llama-3.2-3B-Instruct"

	scoringInstruction = "Analyze the sentiment of these tweets about Bittensor blockchain. " +
		"Return a single number between -100 (extremely negative) to +100 (extremely positive). " +
		"Tweets: "
	textSeparator      = "\n\n---\n\n"
	scoringMaxTokens   = 20
	scoringTemperature = 0.3
)

var numberPattern = regexp.MustCompile(`-?\d+\.?\d*`)

// TextCompleter is the text completion capability
type TextCompleter interface {
	Complete(ctx context.Context, req adapter.CompletionRequest) (*adapter.CompletionResponse, error)
}

// SentimentScorer reduces a batch of texts to one score in [-100, 100]
type SentimentScorer struct {
	completer TextCompleter
	model     string
}

// NewSentimentScorer creates a scorer using model
func NewSentimentScorer(completer TextCompleter, model string) *SentimentScorer {
	if model == "" {
		model = DefaultScoringModel
	}
	return &SentimentScorer{completer: completer, model: model}
}

// BuildPrompt joins texts into the scoring prompt
func BuildPrompt(texts []string) string {
	return scoringInstruction + strings.Join(texts, textSeparator)
}

// Score asks the model for a sentiment score. An answer without a number
// scores 0. Upstream failures are returned as a ScoringServiceError.
func (s *SentimentScorer) Score(ctx context.Context, texts []string) (float64, error) {
	resp, err := s.completer.Complete(ctx, adapter.CompletionRequest{
		Model:       s.model,
		Prompt:      BuildPrompt(texts),
		Stream:      false,
		MaxTokens:   scoringMaxTokens,
		Temperature: scoringTemperature,
	})
	if err != nil {
		return 0, apperrors.NewScoringServiceError(err)
	}
	return ParseScore(resp.FirstText()), nil
}

// ParseScore extracts the first number in text and clamps it to the score range.
// Returns 0 if text holds no number.
func ParseScore(text string) float64 {
	match := numberPattern.FindString(text)
	if match == "" {
		return 0
	}
	// Out of range digit runs parse as +-Inf and clamp like any other value
	v, err := strconv.ParseFloat(strings.TrimSuffix(match, "."), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return ClampScore(v)
}

// ClampScore limits v to [MinSentimentScore, MaxSentimentScore]
func ClampScore(v float64) float64 {
	if v > MaxSentimentScore {
		return MaxSentimentScore
	}
	if v < MinSentimentScore {
		return MinSentimentScore
	}
	return v
}
