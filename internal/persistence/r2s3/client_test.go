package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type captured struct {
	method, path, auth, hash, date string
	body                           []byte
}

func fakeBucket(t *testing.T, status int) (*httptest.Server, *[]captured, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			auth:   r.Header.Get("Authorization"),
			hash:   r.Header.Get("x-amz-content-sha256"),
			date:   r.Header.Get("x-amz-date"),
			body:   b,
		})
		mu.Unlock()
		rw.WriteHeader(status)
		_, _ = rw.Write([]byte("denied"))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &mu
}

func newClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: endpoint, Bucket: "audit", AccessKeyID: "AKID", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestClient_PutFileSigns(t *testing.T) {
	srv, got, mu := fakeBucket(t, http.StatusOK)
	c := newClient(t, srv.URL)

	path := filepath.Join(t.TempDir(), "attempts-2026-03-01-11.jsonl.zst")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "prod/attempts/a b.jsonl.zst", path); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 1 {
		t.Fatalf("requests = %d", len(*got))
	}
	r := (*got)[0]
	if r.method != http.MethodPut || r.path != "/audit/prod/attempts/a%20b.jsonl.zst" {
		t.Fatalf("request %s %s", r.method, r.path)
	}
	sum := sha256.Sum256([]byte("payload"))
	if r.hash != hex.EncodeToString(sum[:]) || string(r.body) != "payload" {
		t.Fatalf("payload hash %s body %q", r.hash, r.body)
	}
	if r.date != "20260301T120000Z" {
		t.Fatalf("x-amz-date = %s", r.date)
	}
	wantPrefix := "AWS4-HMAC-SHA256 Credential=AKID/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(r.auth, wantPrefix) || len(r.auth) != len(wantPrefix)+64 {
		t.Fatalf("authorization = %s", r.auth)
	}
}

func TestClient_PutReportsStatus(t *testing.T) {
	srv, _, _ := fakeBucket(t, http.StatusForbidden)
	c := newClient(t, srv.URL)
	err := c.Put(context.Background(), "k", strings.NewReader("x"), 1)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("err = %v", err)
	}
	if err := c.Put(context.Background(), "../escape", strings.NewReader("x"), 1); err == nil {
		t.Fatalf("escaping key accepted")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("missing credentials accepted")
	}
	if _, err := New(Config{Endpoint: "ftp://x", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"}); err == nil {
		t.Fatalf("ftp endpoint accepted")
	}
	c, err := New(Config{Endpoint: "acct.r2.example.com/", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.endpoint != "https://acct.r2.example.com" || c.region != "auto" {
		t.Fatalf("endpoint=%s region=%s", c.endpoint, c.region)
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	cases := map[string]string{
		"a/b":           "a/b",
		"/a//b/":        "a/b",
		`a\b`:           "a/b",
		"a/../b":        "b",
		"../b":          "",
		"a/../../b":     "",
		"":              "",
		"  ":            "",
		"..hidden/file": "..hidden/file",
	}
	for in, want := range cases {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q) = %q, want %q", in, got, want)
		}
	}
}
