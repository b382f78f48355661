package util

import (
	"net/http"
	"net/url"
	"testing"
)

func reqFor(t *testing.T, rawurl string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawurl)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Request{URL: u}
}

func TestProxyFuncExplicit(t *testing.T) {
	proxy, err := ProxyFunc("http://proxy.local:3128", "http://sproxy.local:3128")
	if err != nil {
		t.Fatal(err)
	}

	u, err := proxy(reqFor(t, "http://eutils.ncbi.nlm.nih.gov/entrez"))
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Host != "proxy.local:3128" {
		t.Fatalf("http proxy = %v", u)
	}

	u, err = proxy(reqFor(t, "https://eutils.ncbi.nlm.nih.gov/entrez"))
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Host != "sproxy.local:3128" {
		t.Fatalf("https proxy = %v", u)
	}
}

func TestProxyFuncHTTPOnly(t *testing.T) {
	// A lone HTTP proxy also covers HTTPS requests.
	proxy, err := ProxyFunc("http://proxy.local:3128", "")
	if err != nil {
		t.Fatal(err)
	}
	u, err := proxy(reqFor(t, "https://example.org/"))
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Host != "proxy.local:3128" {
		t.Fatalf("proxy = %v", u)
	}
}

func TestProxyFuncRejectsMalformed(t *testing.T) {
	if _, err := ProxyFunc("http://bad proxy", ""); err == nil {
		t.Fatal("expected error for malformed proxy URL")
	}
}
