package httputil

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if truncated || !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("unexpected result: %q truncated=%t", data, truncated)
	}

	data, truncated, err = ReadAllWithLimit(strings.NewReader("hello world"), 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !truncated || string(data) != "hello" {
		t.Fatalf("expected truncation at 5 bytes, got %q truncated=%t", data, truncated)
	}
}

func TestReadAllStrict(t *testing.T) {
	if _, err := ReadAllStrict(strings.NewReader("too long"), 3); err == nil {
		t.Fatal("expected error for oversized body")
	}
	data, err := ReadAllStrict(strings.NewReader("ok"), 3)
	if err != nil || string(data) != "ok" {
		t.Fatalf("unexpected: %q %v", data, err)
	}
}
