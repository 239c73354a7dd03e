package providers

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/nghyane/llm-mux/internal/provider"
)

func TestStringValue_MissingKeyReturnsEmpty(t *testing.T) {
	if got := stringValue(map[string]any{"a": "b"}, "missing"); got != "" {
		t.Errorf("got %q", got)
	}
	if got := stringValue(nil, "a"); got != "" {
		t.Errorf("got %q for nil map", got)
	}
}

func TestStringValue_NonStringValueReturnsEmpty(t *testing.T) {
	if got := stringValue(map[string]any{"n": 42}, "n"); got != "" {
		t.Errorf("got %q, want empty for a non-string value", got)
	}
}

func TestResolveGeminiProjectID_NilAuth(t *testing.T) {
	if got := resolveGeminiProjectID(nil); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestResolveGeminiProjectID_FromMetadata(t *testing.T) {
	auth := &provider.Auth{Metadata: map[string]any{"project_id": "my-proj"}}
	if got := resolveGeminiProjectID(auth); got != "my-proj" {
		t.Errorf("got %q", got)
	}
}

func TestSetJSONField_SetsValue(t *testing.T) {
	out := setJSONField([]byte(`{"a":1}`), "project", "proj-1")
	if gjson.GetBytes(out, "project").String() != "proj-1" {
		t.Errorf("got %s", out)
	}
}

func TestSetJSONField_SkipsWhenKeyOrValueEmpty(t *testing.T) {
	body := []byte(`{"a":1}`)
	if got := setJSONField(body, "", "v"); string(got) != string(body) {
		t.Errorf("expected unchanged body for empty key, got %s", got)
	}
	if got := setJSONField(body, "k", ""); string(got) != string(body) {
		t.Errorf("expected unchanged body for empty value, got %s", got)
	}
}

func TestDeleteJSONField_RemovesKey(t *testing.T) {
	out := deleteJSONField([]byte(`{"project":"p","model":"m"}`), "project")
	if gjson.GetBytes(out, "project").Exists() {
		t.Errorf("expected project to be deleted, got %s", out)
	}
	if gjson.GetBytes(out, "model").String() != "m" {
		t.Errorf("expected model to survive, got %s", out)
	}
}

func TestDeleteJSONField_EmptyBodyIsNoop(t *testing.T) {
	if got := deleteJSONField(nil, "project"); got != nil {
		t.Errorf("got %v", got)
	}
}

func TestUpdateGeminiCLITokenMetadata_WritesTokenFields(t *testing.T) {
	auth := &provider.Auth{}
	expiry := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tok := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: expiry}
	updateGeminiCLITokenMetadata(auth, nil, tok)

	if auth.Metadata["access_token"] != "at" || auth.Metadata["refresh_token"] != "rt" {
		t.Errorf("got %+v", auth.Metadata)
	}
	if auth.Metadata["expiry"] != expiry.Format(time.RFC3339) {
		t.Errorf("expiry = %v", auth.Metadata["expiry"])
	}
}

func TestUpdateGeminiCLITokenMetadata_NilAuthOrTokenIsNoop(t *testing.T) {
	updateGeminiCLITokenMetadata(nil, nil, &oauth2.Token{AccessToken: "at"})
	auth := &provider.Auth{Metadata: map[string]any{"access_token": "unchanged"}}
	updateGeminiCLITokenMetadata(auth, nil, nil)
	if auth.Metadata["access_token"] != "unchanged" {
		t.Errorf("expected metadata untouched when token is nil, got %+v", auth.Metadata)
	}
}

func TestUpdateGeminiCLITokenMetadata_PreservesBaseTokenFields(t *testing.T) {
	auth := &provider.Auth{}
	base := map[string]any{"id_token": "abc"}
	updateGeminiCLITokenMetadata(auth, base, &oauth2.Token{AccessToken: "at"})
	tokenField, ok := auth.Metadata["token"].(map[string]any)
	if !ok || tokenField["id_token"] != "abc" {
		t.Errorf("expected base token fields preserved under 'token', got %+v", auth.Metadata)
	}
}
