// Package labeler names clusters with an OpenAI chat model.
package labeler

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"

	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/internal/service"
	"github.com/formbricks/atlas/pkg/cache"
)

var (
	// ErrMissingAPIKey is returned by NewOpenAILabeler without an API key.
	ErrMissingAPIKey = errors.New("labeler: OpenAI API key is required")
	// ErrNoItems is returned when LabelGroup is called with no items.
	ErrNoItems = errors.New("labeler: no items to label")
	// ErrNoChoice is returned when the API response contains no message.
	ErrNoChoice = errors.New("labeler: no choice in response")
	// ErrEmptyName is returned when the model answers without a usable name.
	ErrEmptyName = errors.New("labeler: model returned an empty name")
)

const (
	// DefaultModel is used when Options.Model is empty.
	DefaultModel     = "gpt-4o-mini"
	defaultCacheSize = 256
	defaultRetryMax  = 3
	defaultTimeout   = 30 * time.Second
	maxNameRunes     = 60
	maxDescRunes     = 240
	cacheName        = "cluster_label"
)

const systemPrompt = `You name groups of related content for a knowledge map.
Reply with a JSON object {"name": "...", "description": "..."}.
The name is 2 to 5 words in title case. The description is one short sentence.`

// Options configures an OpenAILabeler.
type Options struct {
	APIKey string
	// BaseURL overrides the API endpoint (OpenAI-compatible servers, tests).
	BaseURL string
	Model   string
	// RateLimit caps model calls per second. Zero disables limiting.
	RateLimit    float64
	CacheSize    int
	RetryMax     int
	RetryWaitMin time.Duration
	Timeout      time.Duration
	Metrics      observability.CacheMetrics
	Logger       *slog.Logger
}

// OpenAILabeler implements service.Labeler. Labels are cached per member set, so regenerating
// an unchanged cluster does not call the model again.
type OpenAILabeler struct {
	sdk     openaisdk.Client
	model   string
	limiter *rate.Limiter
	cache   *cache.Loader[service.GroupLabel]
	metrics observability.CacheMetrics
	logger  *slog.Logger
}

var _ service.Labeler = (*OpenAILabeler)(nil)

// NewOpenAILabeler creates a labeler. HTTP retries are handled by go-retryablehttp; the SDK's
// own retries are disabled.
func NewOpenAILabeler(opts Options) (*OpenAILabeler, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	labels, err := cache.NewLoader[service.GroupLabel](cmp.Or(opts.CacheSize, defaultCacheSize))
	if err != nil {
		return nil, fmt.Errorf("create label cache: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cmp.Or(opts.RetryMax, defaultRetryMax)
	retryClient.HTTPClient.Timeout = cmp.Or(opts.Timeout, defaultTimeout)
	retryClient.Logger = nil

	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
		retryClient.RetryWaitMax = 4 * opts.RetryWaitMin
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(retryClient.StandardClient()),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(opts.BaseURL))
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAILabeler{
		sdk:     openaisdk.NewClient(sdkOpts...),
		model:   cmp.Or(opts.Model, DefaultModel),
		limiter: limiter,
		cache:   labels,
		metrics: opts.Metrics,
		logger:  logger,
	}, nil
}

// LabelGroup returns a name and description for the items.
func (l *OpenAILabeler) LabelGroup(ctx context.Context, items []service.RepresentativeItem) (service.GroupLabel, error) {
	if len(items) == 0 {
		return service.GroupLabel{}, ErrNoItems
	}

	label, hit, err := l.cache.Get(ctx, memberKey(items), func(ctx context.Context, _ string) (service.GroupLabel, error) {
		return l.complete(ctx, items)
	})

	if l.metrics != nil {
		if hit {
			l.metrics.RecordHit(ctx, cacheName)
		} else {
			l.metrics.RecordMiss(ctx, cacheName)
		}
	}

	if err != nil {
		return service.GroupLabel{}, err
	}

	return label, nil
}

func (l *OpenAILabeler) complete(ctx context.Context, items []service.RepresentativeItem) (service.GroupLabel, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return service.GroupLabel{}, fmt.Errorf("labeler: rate limit wait: %w", err)
		}
	}

	start := time.Now()

	resp, err := l.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(l.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(userPrompt(items)),
		},
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: param.NewOpt(0.2),
	})
	if err != nil {
		return service.GroupLabel{}, fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return service.GroupLabel{}, ErrNoChoice
	}

	label, err := parseLabel(resp.Choices[0].Message.Content)
	if err != nil {
		return service.GroupLabel{}, err
	}

	l.logger.DebugContext(ctx, "labeler: cluster labeled",
		"model", l.model, "items", len(items), "duration_ms", time.Since(start).Milliseconds())

	return label, nil
}

func userPrompt(items []service.RepresentativeItem) string {
	var b strings.Builder

	b.WriteString("Items in the group:\n")

	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(item.Title))

		if summary := strings.TrimSpace(item.Summary); summary != "" {
			b.WriteString(": ")
			b.WriteString(summary)
		}

		b.WriteByte('\n')
	}

	return b.String()
}

// parseLabel decodes the model's JSON answer, tolerating a surrounding code fence.
func parseLabel(content string) (service.GroupLabel, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var label service.GroupLabel
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &label); err != nil {
		return service.GroupLabel{}, fmt.Errorf("labeler: decode response: %w", err)
	}

	label.Name = truncate(strings.TrimSpace(label.Name), maxNameRunes)
	label.Description = truncate(strings.TrimSpace(label.Description), maxDescRunes)

	if label.Name == "" {
		return service.GroupLabel{}, ErrEmptyName
	}

	return label, nil
}

// memberKey identifies a member set independent of order.
func memberKey(items []service.RepresentativeItem) string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ItemID.String()
	}

	slices.Sort(ids)

	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))

	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return strings.TrimSpace(string([]rune(s)[:n]))
}
