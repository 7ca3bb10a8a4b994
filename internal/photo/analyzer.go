package photo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// Detection is one bottle recognized in a shelf photo
type Detection struct {
	Brand       string  `json:"brand"`
	ProductName string  `json:"product_name"`
	SizeML      int     `json:"size_ml,omitempty"`
	Category    string  `json:"category,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Issue is one compliance problem spotted in an audit photo
type Issue struct {
	Description    string  `json:"description"`
	Severity       string  `json:"severity"` // low, medium, high, critical
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// Analysis is the structured result of analyzing one photo
type Analysis struct {
	Detections      []Detection `json:"detections,omitempty"`
	Issues          []Issue     `json:"issues,omitempty"`
	ComplianceScore int         `json:"compliance_score,omitempty"`
	Summary         string      `json:"summary,omitempty"`

	// Raw is the model output as received
	Raw string `json:"-"`
}

// Request is one photo to analyze in the context of the item being walked
type Request struct {
	Mode  guide.Mode
	Item  guide.Item
	Image []byte
	MIME  string
}

// Analyzer turns a photo into detections or issues
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)
	Provider() string
}

// OpenAIConfig configures the OpenAI vision analyzer
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int64
}

// OpenAIAnalyzer analyzes photos with an OpenAI chat model that accepts images
type OpenAIAnalyzer struct {
	client openai.Client
	config OpenAIConfig
	logger *logger.Logger
}

// NewOpenAIAnalyzer creates a new OpenAI-backed analyzer
func NewOpenAIAnalyzer(config OpenAIConfig, log *logger.Logger) (*OpenAIAnalyzer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if config.Model == "" {
		config.Model = "gpt-4o"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(1),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	return &OpenAIAnalyzer{
		client: openai.NewClient(opts...),
		config: config,
		logger: log.Named("vision"),
	}, nil
}

// Provider names the analyzer in photo logs
func (a *OpenAIAnalyzer) Provider() string {
	return "openai"
}

// Analyze sends the photo with a mode-specific instruction and decodes the
// JSON object the model returns
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	dataURL := "data:" + req.MIME + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	start := time.Now()

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req.Mode)),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(userPrompt(req.Mode, req.Item)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxCompletionTokens: openai.Int(a.config.MaxTokens),
		Temperature:         openai.Float(0.1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze photo: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in analysis response")
	}

	content := completion.Choices[0].Message.Content
	analysis, err := ParseAnalysis(content)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Analyzed photo",
		logger.String("item_id", req.Item.ID),
		logger.String("mode", string(req.Mode)),
		logger.Int("detections", len(analysis.Detections)),
		logger.Int("issues", len(analysis.Issues)),
		logger.Duration("took", time.Since(start)))

	return analysis, nil
}

// ParseAnalysis decodes model output, tolerating a fenced code block
// around the JSON object
func ParseAnalysis(content string) (*Analysis, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var analysis Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	analysis.Raw = raw
	return &analysis, nil
}

func systemPrompt(mode guide.Mode) string {
	if mode == guide.ModeInventory {
		return `You count liquor, wine and beer bottles on bar shelves.
List every bottle you can see, one entry per physical bottle.
Respond with a JSON object: {"detections":[{"brand":"","product_name":"","size_ml":750,"category":"vodka","confidence":0.9}]}.
Use "Unknown" for an unreadable brand and omit size_ml if it cannot be determined. Confidence is between 0 and 1.`
	}
	return `You are a health inspector reviewing a photo taken during a bar or restaurant compliance audit.
Report food code and safety violations visible in the photo.
Respond with a JSON object: {"issues":[{"description":"","severity":"low|medium|high|critical","confidence":0.9,"recommendation":""}],"compliance_score":0,"summary":""}.
compliance_score is 0 to 100. Return an empty issues list when nothing is wrong.`
}

func userPrompt(mode guide.Mode, item guide.Item) string {
	if mode == guide.ModeInventory {
		return fmt.Sprintf("The staff member is counting %q. Identify all bottles in this photo.", item.Text)
	}
	return fmt.Sprintf("Checklist item: %q. Does this photo show any problems with it?", item.Text)
}
