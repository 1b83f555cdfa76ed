package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"dollforge/internal/model"
)

// flakyPutter fails a configurable number of times per key before succeeding.
type flakyPutter struct {
	failures int
	calls    map[string]int
	keys     []string
}

func (p *flakyPutter) Put(_ context.Context, _, key, _ string) error {
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[key]++
	if p.calls[key] <= p.failures {
		return errors.New("connection reset")
	}
	p.keys = append(p.keys, key)
	return nil
}

func testSettings() model.StorageSettings {
	return model.StorageSettings{
		Endpoint:  "storage.example.com",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "dolls",
		Folder:    "inputs",
		UseSSL:    true,
	}
}

func newTestClient(p putter) *Client {
	return &Client{
		attempts: 3,
		delay:    time.Millisecond,
		dial:     func(model.StorageSettings) (putter, error) { return p, nil },
	}
}

func collectLogs(lines *[]string) func(string, ...any) {
	return func(format string, args ...any) {
		*lines = append(*lines, fmt.Sprintf(format, args...))
	}
}

func TestUploadPreservesOrder(t *testing.T) {
	p := &flakyPutter{}
	c := newTestClient(p)

	images := []model.ImageRef{
		{Path: "/img/reference.png", Name: "reference.png"},
		{Path: "/img/mannequin.png", Name: "mannequin.png"},
	}

	var logs []string
	links, err := c.Upload(context.Background(), images, testSettings(), collectLogs(&logs))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	want := []string{
		"https://storage.example.com/dolls/inputs/reference.png",
		"https://storage.example.com/dolls/inputs/mannequin.png",
	}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	p := &flakyPutter{failures: 2}
	c := newTestClient(p)

	images := []model.ImageRef{{Path: "/img/hair.png", Name: "hair.png"}}

	var logs []string
	links, err := c.Upload(context.Background(), images, testSettings(), collectLogs(&logs))
	if err != nil {
		t.Fatalf("Upload after 2 transient failures: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %v, want one link", links)
	}

	var failed int
	for _, l := range logs {
		if strings.Contains(l, "failed for hair.png") {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("attempt-failed log lines = %d, want 2\nlogs: %v", failed, logs)
	}
}

func TestUploadExhaustsRetries(t *testing.T) {
	p := &flakyPutter{failures: 3}
	c := newTestClient(p)

	images := []model.ImageRef{{Path: "/img/body.png", Name: "body.png"}}

	var logs []string
	_, err := c.Upload(context.Background(), images, testSettings(), collectLogs(&logs))
	if err == nil {
		t.Fatal("Upload succeeded after 3 failures, want error")
	}
	if !strings.Contains(err.Error(), "body.png") {
		t.Errorf("error %q does not name the offending file", err)
	}
	if p.calls["inputs/body.png"] != 3 {
		t.Errorf("attempts = %d, want exactly 3", p.calls["inputs/body.png"])
	}
}

// cancellingPutter fails every attempt and cancels the context on the first.
type cancellingPutter struct {
	cancel context.CancelFunc
}

func (p *cancellingPutter) Put(context.Context, string, string, string) error {
	p.cancel()
	return errors.New("connection reset")
}

func TestUploadInterruptedWaitNamesFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &Client{
		attempts: 3,
		delay:    time.Minute,
		dial: func(model.StorageSettings) (putter, error) {
			return &cancellingPutter{cancel: cancel}, nil
		},
	}

	images := []model.ImageRef{{Path: "/img/cloth.png", Name: "cloth.png"}}
	_, err := c.Upload(ctx, images, testSettings(), func(string, ...any) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !strings.Contains(err.Error(), "cloth.png") {
		t.Errorf("error %q does not name the offending file", err)
	}
}

func TestUploadMissingCredentialsFailsFast(t *testing.T) {
	dialed := false
	c := &Client{
		attempts: 3,
		delay:    time.Millisecond,
		dial: func(model.StorageSettings) (putter, error) {
			dialed = true
			return &flakyPutter{}, nil
		},
	}

	st := testSettings()
	st.SecretKey = ""

	_, err := c.Upload(context.Background(), []model.ImageRef{{Path: "/img/a.png"}}, st, func(string, ...any) {})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
	if dialed {
		t.Error("dial was called despite missing credentials")
	}
}

func TestPublicURLPrefersPublicBase(t *testing.T) {
	st := testSettings()
	st.PublicBase = "https://cdn.example.com/"

	got := publicURL(st, "inputs/a.png")
	if got != "https://cdn.example.com/inputs/a.png" {
		t.Errorf("publicURL = %q", got)
	}
}
