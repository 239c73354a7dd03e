package apperr

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestHTTPStatus_KnownKinds(t *testing.T) {
	cases := map[*Error]int{
		New(KindUnauthorized, "x"):           http.StatusUnauthorized,
		BadRequest(ReasonMalformedJSON, "x"): http.StatusBadRequest,
		New(KindUpstreamAuth, "x"):           http.StatusBadGateway,
		New(KindUpstreamRateLimit, "x"):      http.StatusBadGateway,
		New(KindUpstreamFailure, "x"):        http.StatusBadGateway,
		New(KindUpstreamProtocol, "x"):       http.StatusBadGateway,
		ConfigErr("x"):                       http.StatusInternalServerError,
		NotFound("x"):                        http.StatusNotFound,
	}
	for err, want := range cases {
		if got := err.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", err.Kind, got, want)
		}
	}
}

func TestUpstreamStatus_Classification(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindUpstreamAuth},
		{http.StatusForbidden, KindUpstreamAuth},
		{http.StatusTooManyRequests, KindUpstreamRateLimit},
		{http.StatusInternalServerError, KindUpstreamFailure},
		{http.StatusBadGateway, KindUpstreamFailure},
	}
	for _, tc := range cases {
		err := UpstreamStatus(tc.status, "body", nil)
		if err.Kind != tc.want {
			t.Errorf("UpstreamStatus(%d).Kind = %q, want %q", tc.status, err.Kind, tc.want)
		}
		if err.StatusCode() != tc.status {
			t.Errorf("UpstreamStatus(%d).StatusCode() = %d", tc.status, err.StatusCode())
		}
	}
}

func TestUpstreamStatus_RetryAfterPreserved(t *testing.T) {
	d := 30 * time.Second
	err := UpstreamStatus(http.StatusTooManyRequests, "rate limited", &d)
	if err.RetryAfter() == nil || *err.RetryAfter() != d {
		t.Errorf("RetryAfter() = %v, want %v", err.RetryAfter(), d)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindUpstreamProtocol, "failed to parse", cause)
	if !errors.Is(err, cause) {
		t.Error("expected Wrap to preserve the cause for errors.Is/Unwrap")
	}
	if err.Error() != "failed to parse" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAs_MatchesAppError(t *testing.T) {
	var wrapped error = Wrap(KindConfig, "bad config", errors.New("inner"))
	appErr, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to match")
	}
	if appErr.Kind != KindConfig {
		t.Errorf("Kind = %q, want config_error", appErr.Kind)
	}
}

func TestAs_MissOnPlainError(t *testing.T) {
	_, ok := As(errors.New("not an apperr"))
	if ok {
		t.Error("expected As to miss for a plain error")
	}
}

func TestToJSON_ShapesErrorBody(t *testing.T) {
	err := BadRequest(ReasonMalformedJSON, "invalid JSON")
	err.Details = "line 3"
	body := err.ToJSON()
	if body.Error.Message != "invalid JSON" || body.Error.Details != "line 3" {
		t.Errorf("got %+v", body)
	}
}

func TestConfigErr_FormatsMessage(t *testing.T) {
	err := ConfigErr("provider %q is not configured", "kiro")
	if err.Message != `provider "kiro" is not configured` {
		t.Errorf("got %q", err.Message)
	}
}

func TestError_FallsBackToKindWhenMessageEmpty(t *testing.T) {
	err := &Error{Kind: KindNotFound}
	if err.Error() != string(KindNotFound) {
		t.Errorf("got %q", err.Error())
	}
}
