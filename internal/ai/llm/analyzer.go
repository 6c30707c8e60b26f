package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/koofree/trading-bot/internal/logging"
	"github.com/koofree/trading-bot/internal/signal"
)

const sentimentSystemPrompt = `You are a professional cryptocurrency market analyst. ` +
	`You review technical analysis summaries and assess market sentiment. ` +
	`Respond with valid JSON only.`

const sentimentInstructions = `
Based on the analysis above, provide:
1. sentiment_score: a number from -1.0 (extremely bearish) to 1.0 (extremely bullish)
2. confidence: a number from 0.0 to 1.0
3. reasoning: a 2-3 sentence explanation

Format your response as valid JSON with these exact keys: sentiment_score, confidence, reasoning`

// jsonObjectPattern extracts the first JSON object from a response
// that may wrap it in prose or a code fence
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Analyzer turns an LLM review of market analysis into a sentiment
// score the fusion engine can consume.
type Analyzer struct {
	client *Client
	logger *logging.Logger
}

// NewAnalyzer creates a sentiment analyzer over the given client
func NewAnalyzer(client *Client, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Analyzer{
		client: client,
		logger: logger.WithComponent("llm-analyzer"),
	}
}

// Available reports whether sentiment analysis can run
func (a *Analyzer) Available() bool {
	return a.client != nil && a.client.IsConfigured()
}

// AnalyzeSentiment asks the LLM to score market sentiment from the
// formatted analysis context. Callers must tolerate an error by
// proceeding without a sentiment contribution.
func (a *Analyzer) AnalyzeSentiment(ctx context.Context, analysisContext string) (*signal.Sentiment, error) {
	if !a.Available() {
		return nil, fmt.Errorf("llm client not configured")
	}

	response, err := a.client.Complete(ctx, sentimentSystemPrompt, analysisContext+sentimentInstructions)
	if err != nil {
		a.logger.Warn("Sentiment request failed", "error", err)
		return nil, err
	}

	sentiment, err := parseSentiment(response)
	if err != nil {
		a.logger.Warn("Sentiment response unparseable", "error", err)
		return nil, err
	}

	a.logger.Info("Sentiment analyzed",
		"score", fmt.Sprintf("%.2f", sentiment.Score),
		"confidence", fmt.Sprintf("%.2f", sentiment.Confidence))
	return sentiment, nil
}

type sentimentPayload struct {
	SentimentScore float64 `json:"sentiment_score"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// parseSentiment pulls the JSON object out of the model's reply and
// clamps the numbers into their documented ranges.
func parseSentiment(response string) (*signal.Sentiment, error) {
	raw := strings.TrimSpace(response)
	if match := jsonObjectPattern.FindString(raw); match != "" {
		raw = match
	}

	var payload sentimentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("no JSON object in response: %w", err)
	}

	return &signal.Sentiment{
		Score:      clamp(payload.SentimentScore, -1, 1),
		Confidence: clamp(payload.Confidence, 0, 1),
		Reasoning:  payload.Reasoning,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
