package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lowforge/internal/config"
)

// writeScreenshot drops a tiny fake PNG for encoding.
func writeScreenshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	if err := os.WriteFile(path, []byte("\x89PNG fake image bytes"), 0644); err != nil {
		t.Fatalf("Failed to write screenshot: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Vision.APIKey = "test-key"
	cfg.Vision.BaseURL = serverURL
	c := NewClient(cfg)
	c.rateLimitDelay = 0
	return c
}

func visionReply(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected bearer auth")
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		msgs, _ := req["messages"].([]interface{})
		if len(msgs) != 1 {
			t.Errorf("Expected 1 message, got %d", len(msgs))
		} else {
			msg := msgs[0].(map[string]interface{})
			parts, _ := msg["content"].([]interface{})
			if len(parts) != 2 {
				t.Errorf("Expected text+image parts, got %d", len(parts))
			} else {
				img := parts[1].(map[string]interface{})
				url := img["image_url"].(map[string]interface{})["url"].(string)
				if !strings.HasPrefix(url, "data:image/png;base64,") {
					t.Errorf("Expected data URL, got %s", url[:30])
				}
			}
		}

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestAnalyzeScreenshot(t *testing.T) {
	reply := "```json\n" + `{
		"elements": [
			{"type": "button", "text": "Save", "suggested_selector": "#save-btn", "confidence": 0.95}
		],
		"layout_info": {"page_type": "form"},
		"suggestions": ["click save"],
		"confidence_score": 0.85
	}` + "\n```"

	server := httptest.NewServer(visionReply(t, reply))
	defer server.Close()

	client := newTestClient(t, server.URL)
	analysis, err := client.AnalyzeScreenshot(context.Background(), writeScreenshot(t), "")
	if err != nil {
		t.Fatalf("AnalyzeScreenshot failed: %v", err)
	}

	if len(analysis.Elements) != 1 {
		t.Fatalf("Expected 1 element, got %d", len(analysis.Elements))
	}
	if analysis.Elements[0]["type"] != "button" {
		t.Errorf("Expected button element, got %v", analysis.Elements[0]["type"])
	}
	if analysis.Confidence != 0.85 {
		t.Errorf("Expected confidence 0.85, got %v", analysis.Confidence)
	}
	if analysis.Layout["page_type"] != "form" {
		t.Errorf("Expected page_type form, got %v", analysis.Layout["page_type"])
	}
	if len(analysis.Suggestions) != 1 || analysis.Suggestions[0] != "click save" {
		t.Errorf("Unexpected suggestions: %v", analysis.Suggestions)
	}
	if analysis.ModelUsed != "gpt-4-vision-preview" {
		t.Errorf("Expected model recorded, got %s", analysis.ModelUsed)
	}
}

func TestAnalyzeScreenshotUnparseableReply(t *testing.T) {
	server := httptest.NewServer(visionReply(t, "I could not analyze this image, sorry."))
	defer server.Close()

	client := newTestClient(t, server.URL)
	analysis, err := client.AnalyzeScreenshot(context.Background(), writeScreenshot(t), "")
	if err != nil {
		t.Fatalf("AnalyzeScreenshot should not fail on unparseable reply: %v", err)
	}
	if analysis.Confidence != 0.0 {
		t.Errorf("Expected zero confidence, got %v", analysis.Confidence)
	}
	if len(analysis.Elements) != 0 {
		t.Errorf("Expected no elements, got %d", len(analysis.Elements))
	}
}

func TestAnalyzeScreenshotMissingFile(t *testing.T) {
	server := httptest.NewServer(visionReply(t, "{}"))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.AnalyzeScreenshot(context.Background(), "/nonexistent/shot.png", "")
	if err == nil {
		t.Fatal("Expected error for missing screenshot file")
	}
}

func TestFindTargets(t *testing.T) {
	reply := `{"suggestions": ["#user-form button[type='submit']", ".submit-btn", "button:has-text('Submit')"], "confidence": 0.8}`
	server := httptest.NewServer(visionReply(t, reply))
	defer server.Close()

	client := newTestClient(t, server.URL)
	suggestions, err := client.FindTargets(context.Background(), writeScreenshot(t), "submit button on the user form")
	if err != nil {
		t.Fatalf("FindTargets failed: %v", err)
	}
	if len(suggestions) != 3 {
		t.Fatalf("Expected 3 suggestions, got %d", len(suggestions))
	}
	if suggestions[0] != "#user-form button[type='submit']" {
		t.Errorf("Expected ranked suggestions, got %v", suggestions)
	}
}

func TestValidateElementLocation(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  bool
	}{
		{"valid", `{"is_valid": true, "confidence": 0.9, "reason": "matches"}`, true},
		{"invalid", `{"is_valid": false, "confidence": 0.9, "reason": "wrong type"}`, false},
		{"garbage", `not json at all`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(visionReply(t, tc.reply))
			defer server.Close()

			client := newTestClient(t, server.URL)
			ok, err := client.ValidateElementLocation(context.Background(), writeScreenshot(t), "#save", "button")
			if err != nil {
				t.Fatalf("ValidateElementLocation failed: %v", err)
			}
			if ok != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, ok)
			}
		})
	}
}

func TestAnalyzePageLayout(t *testing.T) {
	reply := `{"page_type": "dashboard", "functional_areas": ["nav", "charts"]}`
	server := httptest.NewServer(visionReply(t, reply))
	defer server.Close()

	client := newTestClient(t, server.URL)
	layout, err := client.AnalyzePageLayout(context.Background(), writeScreenshot(t))
	if err != nil {
		t.Fatalf("AnalyzePageLayout failed: %v", err)
	}
	if layout["page_type"] != "dashboard" {
		t.Errorf("Expected dashboard, got %v", layout["page_type"])
	}
}

func TestVisionAPIErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "image too large"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.AnalyzeScreenshot(context.Background(), writeScreenshot(t), "")
	if err == nil {
		t.Fatal("Expected API error to propagate")
	}
}
