// Package vision analyzes page screenshots with a multimodal model.
// Screenshots are sent base64-encoded to an OpenAI-compatible vision
// endpoint; responses are parsed tolerantly, so a malformed model
// reply degrades to an empty analysis instead of failing the run.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"lowforge/internal/jsonutil"
	"lowforge/internal/logging"
	"lowforge/internal/model"
)

// Analyzer defines the vision operations the agents rely on.
type Analyzer interface {
	// AnalyzeScreenshot runs a full UI analysis of the screenshot.
	// prompt may be empty to use the default element inventory prompt.
	AnalyzeScreenshot(ctx context.Context, screenshotPath, prompt string) (*model.VisualAnalysis, error)

	// FindTargets returns CSS selector suggestions for the described
	// element, ordered most to least likely.
	FindTargets(ctx context.Context, screenshotPath, targetDescription string) ([]string, error)

	// ValidateElementLocation checks whether the selector locates an
	// element of the expected type in the screenshot.
	ValidateElementLocation(ctx context.Context, screenshotPath, selector, expectedType string) (bool, error)

	// AnalyzePageLayout returns a structural description of the page.
	AnalyzePageLayout(ctx context.Context, screenshotPath string) (map[string]interface{}, error)
}

const defaultAnalysisPrompt = `Analyze this web page screenshot and identify the UI elements.

1. Identify every interactive element (buttons, inputs, selects, links).
2. Describe the page layout structure.
3. Suggest next operations.

Return the result as JSON with these fields:
{
    "elements": [
        {
            "type": "element type (button/input/select/link/...)",
            "text": "element text content",
            "position": {"x": 0, "y": 0, "width": 0, "height": 0},
            "attributes": {"id": "", "class": "", "name": ""},
            "confidence": 0.9,
            "suggested_selector": "suggested CSS selector"
        }
    ],
    "layout_info": {
        "page_type": "page type",
        "main_sections": ["list of main sections"],
        "navigation": "navigation description",
        "content_area": "content area description"
    },
    "suggestions": [
        "operation suggestion 1",
        "operation suggestion 2"
    ],
    "confidence_score": 0.85
}

Make sure the response is valid JSON.`

// AnalyzeScreenshot sends the screenshot with an analysis prompt and
// returns the parsed result. Transport failures return an error; an
// unparseable model reply returns a zero-confidence analysis.
func (c *Client) AnalyzeScreenshot(ctx context.Context, screenshotPath, prompt string) (*model.VisualAnalysis, error) {
	startTime := time.Now()

	base64Image, err := encodeImage(screenshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}

	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}

	content, err := c.callVisionAPI(ctx, base64Image, prompt)
	if err != nil {
		return nil, err
	}

	parsed := jsonutil.Extract(content)
	if len(parsed) == 0 {
		logging.VisionWarn("[Vision] AnalyzeScreenshot: unparseable reply for %s, returning empty analysis", screenshotPath)
	}

	analysis := model.NewVisualAnalysis(screenshotPath)
	analysis.Elements = jsonutil.MapSlice(parsed, "elements")
	analysis.Layout = jsonutil.Map(parsed, "layout_info")
	analysis.Suggestions = jsonutil.StringSlice(parsed, "suggestions")
	analysis.Confidence = clamp01(jsonutil.FloatOr(parsed, "confidence_score", 0.0))
	analysis.AnalysisTime = time.Since(startTime).Seconds()
	analysis.ModelUsed = c.model

	logging.Vision("[Vision] AnalyzeScreenshot: %s elements=%d confidence=%.2f in %.2fs",
		screenshotPath, len(analysis.Elements), analysis.Confidence, analysis.AnalysisTime)
	return analysis, nil
}

// FindTargets asks the model for selector candidates matching the description.
func (c *Client) FindTargets(ctx context.Context, screenshotPath, targetDescription string) ([]string, error) {
	base64Image, err := encodeImage(screenshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}

	prompt := fmt.Sprintf(`Find the element matching this description in the screenshot: %q

Suggest possible CSS selectors, ordered from most to least likely.
Return JSON:
{
    "suggestions": [
        "selector 1",
        "selector 2",
        "selector 3"
    ],
    "confidence": 0.8
}`, targetDescription)

	content, err := c.callVisionAPI(ctx, base64Image, prompt)
	if err != nil {
		return nil, err
	}

	parsed := jsonutil.Extract(content)
	suggestions := jsonutil.StringSlice(parsed, "suggestions")
	logging.Vision("[Vision] FindTargets: %q -> %d suggestions", targetDescription, len(suggestions))
	return suggestions, nil
}

// ValidateElementLocation checks a selector against the screenshot.
func (c *Client) ValidateElementLocation(ctx context.Context, screenshotPath, selector, expectedType string) (bool, error) {
	base64Image, err := encodeImage(screenshotPath)
	if err != nil {
		return false, fmt.Errorf("failed to encode screenshot: %w", err)
	}

	prompt := fmt.Sprintf(`Check whether the CSS selector %q locates an element of type %q in this screenshot.

Return JSON:
{
    "is_valid": true,
    "confidence": 0.9,
    "reason": "explanation"
}`, selector, expectedType)

	content, err := c.callVisionAPI(ctx, base64Image, prompt)
	if err != nil {
		return false, err
	}

	parsed := jsonutil.Extract(content)
	valid, _ := jsonutil.Bool(parsed, "is_valid")
	return valid, nil
}

// AnalyzePageLayout returns the page structure as a free-form map.
func (c *Client) AnalyzePageLayout(ctx context.Context, screenshotPath string) (map[string]interface{}, error) {
	base64Image, err := encodeImage(screenshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}

	prompt := `Analyze the overall layout of this web page:
1. Page type (login page, dashboard, form page, ...)
2. Main functional areas
3. Navigation structure
4. Content organization

Return JSON:
{
    "page_type": "page type",
    "layout_structure": {
        "header": "header description",
        "navigation": "navigation description",
        "main_content": "main content description",
        "sidebar": "sidebar description",
        "footer": "footer description"
    },
    "functional_areas": [
        "area 1",
        "area 2"
    ],
    "user_flow_suggestions": [
        "suggested user flow"
    ]
}`

	content, err := c.callVisionAPI(ctx, base64Image, prompt)
	if err != nil {
		return nil, err
	}

	return jsonutil.Extract(content), nil
}

// encodeImage reads the file and returns its base64 encoding.
func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
