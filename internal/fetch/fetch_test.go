package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDocumentReadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	if err := os.WriteFile(path, []byte("openapi: 3.0.0"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := Document(context.Background(), path)
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if string(data) != "openapi: 3.0.0" {
		t.Errorf("unexpected content: %s", data)
	}
}

func TestDocumentMissingFileFails(t *testing.T) {
	if _, err := Document(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestDocumentFetchesURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "" {
			t.Error("Accept header not set")
		}
		_, _ = w.Write([]byte(`{"openapi":"3.0.0"}`))
	}))
	defer server.Close()

	data, err := Document(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if string(data) != `{"openapi":"3.0.0"}` {
		t.Errorf("unexpected content: %s", data)
	}
}

func TestDocumentRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := Document(context.Background(), server.URL); err == nil {
		t.Error("expected an error for 404")
	}
}
