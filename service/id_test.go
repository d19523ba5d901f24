package service

import (
	"testing"
)

func TestParseIDStripsRequestTarget(t *testing.T) {
	id, err := ParseID("scheme://service-name/path?q=1#frag")
	if err != nil {
		t.Fatal(err)
	}
	if id.URI() != "scheme://service-name" {
		t.Fatalf("expect scheme://service-name, got %s", id.URI())
	}

	target, err := RequestTarget("scheme://service-name/path?q=1#frag")
	if err != nil {
		t.Fatal(err)
	}
	if target != "/path?q=1#frag" {
		t.Fatalf("expect /path?q=1#frag, got %s", target)
	}
}

func TestParseIDNormalizesCase(t *testing.T) {
	a, err := ParseID("HTTP://Service-Name:8080/whatever")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseID("http://service-name:8080")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expect equal IDs, got %s vs %s", a, b)
	}
	if a.Scheme() != "http" || a.Authority() != "service-name:8080" {
		t.Fatalf("unexpected normalization: %s", a)
	}
	if a.Host() != "service-name" || a.Port() != "8080" {
		t.Fatalf("unexpected host/port split: %q %q", a.Host(), a.Port())
	}
}

func TestParseIDUsableAsMapKey(t *testing.T) {
	a, _ := ParseID("http://svc/one")
	b, _ := ParseID("http://svc/two?x=y")
	m := map[ServiceID]int{}
	m[a]++
	m[b]++
	if len(m) != 1 || m[a] != 2 {
		t.Fatalf("expect one key with count 2, got %v", m)
	}
}

func TestParseIDRejectsRelative(t *testing.T) {
	if _, err := ParseID("/just/a/path"); err == nil {
		t.Fatal("expect error for relative URI")
	}
}

func TestParseIDRejectsBlankAuthority(t *testing.T) {
	if _, err := ParseID("http:///path"); err == nil {
		t.Fatal("expect error for blank authority")
	}
}

func TestParseIDOpaque(t *testing.T) {
	id, err := ParseID("unix:relative/socket#/rpc")
	if err != nil {
		t.Fatal(err)
	}
	if id.URI() != "unix:relative/socket" {
		t.Fatalf("expect fragment stripped, got %s", id.URI())
	}

	target, err := RequestTarget("unix:relative/socket#/rpc")
	if err != nil {
		t.Fatal(err)
	}
	if target != "/rpc" {
		t.Fatalf("expect /rpc, got %s", target)
	}

	if _, err := ParseID("unix:relative/socket#not-a-path"); err == nil {
		t.Fatal("expect error for opaque URI with non-path fragment")
	}
}

func TestIsZero(t *testing.T) {
	var zero ServiceID
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	id, _ := ParseID("http://svc")
	if id.IsZero() {
		t.Fatal("valid ID should not report IsZero")
	}
}
