package util

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"SM-1","count":2}`))
	got, err := DecodeJSONBody[payload](req)
	if err != nil || got.Name != "SM-1" || got.Count != 2 {
		t.Errorf("got %+v %v", got, err)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"SM-1","extra":true}`))
	if _, err := DecodeJSONBody[payload](req); err == nil {
		t.Error("expected unknown fields to be rejected")
	}
}

func TestWriteAndDecodeResponse(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSONResponse(w, http.StatusCreated, payload{Name: "x", Count: 1})
	if w.Code != http.StatusCreated || w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	resp := &http.Response{Body: io.NopCloser(strings.NewReader(w.Body.String()))}
	got, err := DecodeJSONBodyResponse[payload](resp)
	if err != nil || got.Name != "x" {
		t.Errorf("got %+v %v", got, err)
	}
}
