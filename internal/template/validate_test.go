package template

import (
	"encoding/json"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCoerceCanvasDataRepairs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing", raw: ""},
		{name: "json null", raw: `null`},
		{name: "literal string null", raw: `"null"`},
		{name: "empty string", raw: `""`},
		{name: "garbage string", raw: `"{not json"`},
		{name: "array instead of object", raw: `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := CoerceCanvasData(json.RawMessage(tt.raw), discardLogger())
			if data == nil {
				t.Fatal("coerced data must never be nil")
			}
			if data.Objects == nil || len(data.Objects) != 0 {
				t.Fatalf("expected empty objects array, got %v", data.Objects)
			}
			if data.Background != "#ffffff" {
				t.Fatalf("expected default background, got %q", data.Background)
			}
			if data.Width != 400 || data.Height != 300 {
				t.Fatalf("expected default 400x300, got %dx%d", data.Width, data.Height)
			}
		})
	}
}

func TestCoerceCanvasDataKeepsValidShape(t *testing.T) {
	raw := `{"objects":[{"type":"circle","radius":5}],"background":"#336699","width":800,"height":600}`
	data := CoerceCanvasData(json.RawMessage(raw), discardLogger())

	if len(data.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(data.Objects))
	}
	if data.Background != "#336699" || data.Width != 800 || data.Height != 600 {
		t.Fatalf("valid fields were not preserved: %+v", data)
	}
}

func TestCoerceCanvasDataStringEncodedPayload(t *testing.T) {
	// 旧目录把整个 templateData 二次编码成字符串存储。
	raw := `"{\"objects\":[{\"type\":\"text\",\"text\":\"hi\"}],\"width\":500,\"height\":350}"`
	data := CoerceCanvasData(json.RawMessage(raw), discardLogger())

	if len(data.Objects) != 1 {
		t.Fatalf("expected 1 object from string-encoded payload, got %d", len(data.Objects))
	}
	if data.Width != 500 {
		t.Fatalf("expected width 500, got %d", data.Width)
	}
}

func TestCoerceCanvasDataDropsMalformedEntries(t *testing.T) {
	raw := `{"objects":[{"type":"rect","width":10},42,"junk",{"noType":true},{"type":"circle"}]}`
	data := CoerceCanvasData(json.RawMessage(raw), discardLogger())

	if len(data.Objects) != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", len(data.Objects))
	}
}

func TestValidateRecordRequiresID(t *testing.T) {
	if rec := validateRecord(wireRecord{Name: "no id"}, discardLogger()); rec != nil {
		t.Fatalf("record without id must be dropped, got %+v", rec)
	}
}

func TestTagMatchPolicies(t *testing.T) {
	rec := &Record{ProductTags: []string{"Business Cards", "premium-stock"}}

	if !matchesTag(rec, "business cards", ExactTagMatch) {
		t.Fatal("exact match should ignore case")
	}
	if matchesTag(rec, "business", ExactTagMatch) {
		t.Fatal("exact policy must not match partial tags")
	}
	if !matchesTag(rec, "business", SubstringTagMatch) {
		t.Fatal("substring policy should match partial tags")
	}
	if !matchesTag(rec, "", ExactTagMatch) {
		t.Fatal("empty wanted tag matches everything")
	}
}

func TestFiltersCacheKeyDeterministic(t *testing.T) {
	a := Filters{Category: "cards", Search: "floral", Featured: true, Page: 2}
	b := Filters{Page: 2, Featured: true, Search: "floral", Category: "cards"}
	if a.CacheKey() != b.CacheKey() {
		t.Fatalf("identical filters must share a key: %q vs %q", a.CacheKey(), b.CacheKey())
	}
	c := Filters{Category: "cards"}
	if a.CacheKey() == c.CacheKey() {
		t.Fatal("different filters must not collide")
	}
}
