// Package scorer wraps the language-model collaborator that grades
// reading transcripts. It sends a structured-output prompt and parses the
// JSON reply against a strict schema; anything non-conforming is an
// ErrScorer, never a partial result.
package scorer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/model"
)

// ErrScorer marks any scorer failure: unreachable service, timeout, or a
// reply that does not match the response schema. The enclosing window or
// summary degrades gracefully; the error never propagates past it.
var ErrScorer = errors.New("scorer error")

// Client calls the chat-completion API with reading-assessment prompts.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	log     *logrus.Entry
}

// NewClient builds a scorer client. The per-call timeout bounds every
// request so one stuck call cannot stall other sessions.
func NewClient(apiKey, modelName string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if modelName == "" {
		return nil, errors.New("model is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     openai.NewClient(apiKey),
		model:   modelName,
		timeout: timeout,
		log:     logrus.WithField("component", "scorer"),
	}, nil
}

// Analyze grades a transcript without a reference passage (the quick mode
// used for per-window batches).
func (c *Client) Analyze(ctx context.Context, transcript string) (model.ScorerReport, error) {
	raw, err := c.complete(ctx, quickAnalysisPrompt(transcript))
	if err != nil {
		return model.ScorerReport{}, err
	}
	return parseReport(raw)
}

// AnalyzeAgainstPassage grades a transcript against the expected passage,
// returning per-word miscue alignment and an accuracy percentage.
func (c *Client) AnalyzeAgainstPassage(ctx context.Context, transcript, passage string) (model.ScorerReport, error) {
	raw, err := c.complete(ctx, passageComparisonPrompt(passage, transcript))
	if err != nil {
		return model.ScorerReport{}, err
	}
	return parseReport(raw)
}

// CheckHelp asks whether the reader needs an intervention right now based
// on their recent speech.
func (c *Client) CheckHelp(ctx context.Context, recentText string) (model.HelpDecision, error) {
	raw, err := c.complete(ctx, helpCheckPrompt(recentText))
	if err != nil {
		return model.HelpDecision{}, err
	}
	return parseHelpDecision(raw)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.log.WithError(err).Warn("completion request failed")
		return "", errors.Wrapf(ErrScorer, "completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrap(ErrScorer, "empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
