package offsite

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 serves the PutObject, GetObject and ListObjectsV2 subset over a
// RoundTripper, keyed by path-style object key.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]string
	types    map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, modified: map[string]string{}, types: map[string]string{}}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>",
				k, len(f.objects[k]), f.modified[k])
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, b.String(), "application/xml"), nil
	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		f.objects[key] = body
		f.types[key] = req.Header.Get("Content-Type")
		if _, ok := f.modified[key]; !ok {
			f.modified[key] = "2025-04-01T00:00:00Z"
		}
		resp := respond(http.StatusOK, "", "")
		resp.Header.Set("ETag", `"etag"`)
		return resp, nil
	case req.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound,
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`,
				"application/xml"), nil
		}
		return respond(http.StatusOK, string(body), f.types[key]), nil
	}
	return respond(http.StatusNotImplemented, "", ""), nil
}

func respond(status int, body, contentType string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(strings.NewReader(body)),
	}
}

// decodeChunked strips aws-chunked framing: <hex>\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) []byte {
	var out bytes.Buffer
	r := bufio.NewReader(bytes.NewReader(b))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out.Bytes()
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(line, ";", 2)[0]), 16, 64)
		if err != nil || size == 0 {
			return out.Bytes()
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return out.Bytes()
		}
		out.Write(chunk)
		r.ReadString('\n')
	}
}

func newTestStore(t *testing.T, fake *fakeS3, prefix string) *Store {
	t.Helper()
	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
		HTTPClient:                 &http.Client{Transport: fake},
		BaseEndpoint:               aws.String("http://mock.s3.local"),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewWithClient(client, "gifts", prefix, nil)
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestStore(t, fake, "/backups/")

	key, err := s.Upload(ctx, "/tmp/eduit-raya-backup-2025-04-01.json", strings.NewReader(`{"version":"1.0"}`), "application/json")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if key != "backups/eduit-raya-backup-2025-04-01.json" {
		t.Errorf("key = %q", key)
	}
	if got := fake.types[key]; got != "application/json" {
		t.Errorf("content type = %q", got)
	}

	for _, name := range []string{"eduit-raya-backup-2025-04-01.json", key} {
		rc, err := s.Download(ctx, name)
		if err != nil {
			t.Fatalf("Download(%q): %v", name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != `{"version":"1.0"}` {
			t.Errorf("Download(%q) = %q", name, body)
		}
	}
}

func TestDownloadMissing(t *testing.T) {
	s := newTestStore(t, newFakeS3(), "")
	if _, err := s.Download(context.Background(), "nope.json"); err == nil {
		t.Fatal("expected error")
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestStore(t, fake, "eduitraya")

	for _, name := range []string{"eduit-raya-backup-2025-04-01.json", "eduit-raya-backup-2025-04-03.json", "eduit-raya-2025-04-02.csv"} {
		if _, err := s.Upload(ctx, name, strings.NewReader("x"), ""); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	}
	fake.modified["eduitraya/eduit-raya-backup-2025-04-03.json"] = "2025-04-03T00:00:00Z"

	got, err := s.List(ctx, "eduit-raya-backup-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d objects, want 2: %+v", len(got), got)
	}
	if got[0].Name != "eduit-raya-backup-2025-04-03.json" || got[1].Name != "eduit-raya-backup-2025-04-01.json" {
		t.Errorf("order = %q, %q", got[0].Name, got[1].Name)
	}
	if got[0].Size != 1 {
		t.Errorf("size = %d", got[0].Size)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("New() error = %v, want ErrNotConfigured", err)
	}
}
