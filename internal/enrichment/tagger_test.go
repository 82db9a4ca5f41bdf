package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/notesagent/internal/backoff"
)

func strPtr(s string) *string { return &s }

func completionBody(content, refusal string) string {
	msg := map[string]any{"role": "assistant", "content": content}
	if refusal != "" {
		msg["refusal"] = refusal
	}
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-5-nano",
		"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": "stop"}},
	})
	return string(body)
}

type completionServer struct {
	calls    atomic.Int32
	statuses []int
	body     string
	lastReq  map[string]any
}

func (s *completionServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.calls.Add(1))
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &s.lastReq)

		w.Header().Set("Content-Type", "application/json")
		if n <= len(s.statuses) && s.statuses[n-1] != http.StatusOK {
			w.WriteHeader(s.statuses[n-1])
			_, _ = w.Write([]byte(`{"error":{"message":"try later","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(s.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTagger(t *testing.T, srv *httptest.Server) *Tagger {
	t.Helper()
	tagger, err := NewTagger(TaggerConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL + "/v1",
		ReasoningEffort: "minimal",
		MaxRetries:      2,
		Backoff:         backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	})
	if err != nil {
		t.Fatalf("NewTagger: %v", err)
	}
	return tagger
}

func TestNewTagger(t *testing.T) {
	if _, err := NewTagger(TaggerConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	tagger, err := NewTagger(TaggerConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewTagger: %v", err)
	}
	if tagger.model != DefaultTagModel {
		t.Errorf("model = %q", tagger.model)
	}
}

func TestSuggestionSchema(t *testing.T) {
	raw, err := json.Marshal(SuggestionSchema())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("schema should not carry $schema")
	}
	if schema["type"] != "object" || schema["additionalProperties"] != false {
		t.Errorf("schema = %s", raw)
	}
	if !reflect.DeepEqual(schema["required"], []any{"tags"}) {
		t.Errorf("required = %v", schema["required"])
	}
	tags := schema["properties"].(map[string]any)["tags"].(map[string]any)
	if tags["type"] != "array" || tags["maxItems"] != float64(5) {
		t.Errorf("tags schema = %v", tags)
	}
}

func TestTagger_SuggestTags(t *testing.T) {
	cs := &completionServer{body: completionBody(`{"tags":["food","shopping","a","b","c","d"]}`, "")}
	tagger := newTestTagger(t, cs.start(t))

	tags, err := tagger.SuggestTags(context.Background(), strPtr("Groceries"), strPtr("milk"), []string{"food"}, []string{"errands"})
	if err != nil {
		t.Fatalf("SuggestTags: %v", err)
	}
	if !reflect.DeepEqual(tags, []string{"food", "shopping", "a", "b", "c"}) {
		t.Errorf("tags = %v", tags)
	}

	req := cs.lastReq
	if req["model"] != DefaultTagModel || req["reasoning_effort"] != "minimal" {
		t.Errorf("model/effort = %v/%v", req["model"], req["reasoning_effort"])
	}
	format := req["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("response_format = %v", format)
	}
	js := format["json_schema"].(map[string]any)
	if js["name"] != "note_enrichment" || js["strict"] != true {
		t.Errorf("json_schema = %v", js)
	}
	messages := req["messages"].([]any)
	user := messages[1].(map[string]any)["content"].(string)
	if !strings.HasPrefix(user, "NOTE:\nGroceries\n\nmilk\n\nCONTEXT:\n") ||
		!strings.Contains(user, `"tag_vocab":["food"]`) ||
		!strings.Contains(user, `"existing_tags":["errands"]`) {
		t.Errorf("user message = %q", user)
	}
}

func TestTagger_EmptyNoteSkipsRequest(t *testing.T) {
	cs := &completionServer{body: completionBody(`{"tags":["x"]}`, "")}
	tagger := newTestTagger(t, cs.start(t))

	tags, err := tagger.SuggestTags(context.Background(), strPtr("  "), nil, nil, nil)
	if err != nil || tags != nil {
		t.Errorf("got %v, %v", tags, err)
	}
	if cs.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", cs.calls.Load())
	}
}

func TestTagger_Refusal(t *testing.T) {
	cs := &completionServer{body: completionBody("", "I can't help with that.")}
	tagger := newTestTagger(t, cs.start(t))

	tags, err := tagger.SuggestTags(context.Background(), strPtr("x"), nil, nil, nil)
	if err != nil || tags != nil {
		t.Errorf("got %v, %v", tags, err)
	}
}

func TestTagger_RetriesServerErrors(t *testing.T) {
	cs := &completionServer{
		statuses: []int{http.StatusServiceUnavailable, http.StatusOK},
		body:     completionBody(`{"tags":["work"]}`, ""),
	}
	tagger := newTestTagger(t, cs.start(t))

	tags, err := tagger.SuggestTags(context.Background(), strPtr("standup"), nil, nil, nil)
	if err != nil {
		t.Fatalf("SuggestTags: %v", err)
	}
	if !reflect.DeepEqual(tags, []string{"work"}) || cs.calls.Load() != 2 {
		t.Errorf("tags = %v, calls = %d", tags, cs.calls.Load())
	}
}

func TestTagger_BadJSON(t *testing.T) {
	cs := &completionServer{body: completionBody("not json", "")}
	tagger := newTestTagger(t, cs.start(t))

	if _, err := tagger.SuggestTags(context.Background(), strPtr("x"), nil, nil, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name      string
		suggested []string
		existing  []string
		want      []string
	}{
		{"suggested first", []string{"Food", "shopping"}, []string{"errands", "food"}, []string{"food", "shopping", "errands"}},
		{"blank dropped", []string{" ", "x"}, nil, []string{"x"}},
		{"capped", []string{"a", "b", "c"}, []string{"d", "e", "f"}, []string{"a", "b", "c", "d", "e"}},
		{"empty", nil, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeTags(tt.suggested, tt.existing); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeTags = %v, want %v", got, tt.want)
			}
		})
	}
}
