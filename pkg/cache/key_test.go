package cache

import (
	"net/http"
	"testing"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "anonymous page",
			key:  CacheKey{URL: "https://novel.example.com/n1234/"},
			want: "gatefetch:page:anon:https://novel.example.com/n1234/",
		},
		{
			name: "authorized page",
			key:  CacheKey{URL: "https://novel.example.com/n1234/", Authorized: true},
			want: "gatefetch:page:auth:https://novel.example.com/n1234/",
		},
		{
			name: "host and scheme lower-cased",
			key:  CacheKey{URL: "HTTPS://Novel.Example.COM/n1234/"},
			want: "gatefetch:page:anon:https://novel.example.com/n1234/",
		},
		{
			name: "query params sorted",
			key:  CacheKey{URL: "https://novel.example.com/search?word=x&p=2"},
			want: "gatefetch:page:anon:https://novel.example.com/search?p=2&word=x",
		},
		{
			name: "fragment dropped",
			key:  CacheKey{URL: "https://novel.example.com/n1234/1/#top"},
			want: "gatefetch:page:anon:https://novel.example.com/n1234/1/",
		},
		{
			name: "empty path becomes root",
			key:  CacheKey{URL: "https://novel.example.com"},
			want: "gatefetch:page:anon:https://novel.example.com/",
		},
		{
			name: "unparseable url kept verbatim",
			key:  CacheKey{URL: "not a url"},
			want: "gatefetch:page:anon:not a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyForRequest(t *testing.T) {
	anon := KeyForRequest(&transport.Request{URL: "https://a.example.com/x", Header: http.Header{}})
	if anon.Authorized {
		t.Error("request without cookie should not be authorized")
	}

	auth := KeyForRequest(&transport.Request{
		URL:    "https://a.example.com/x",
		Header: http.Header{"Cookie": []string{"over18=yes"}},
	})
	if !auth.Authorized {
		t.Error("request with cookie should be authorized")
	}
	if anon.String() == auth.String() {
		t.Errorf("anonymous and authorized keys collide: %s", anon.String())
	}
	if auth.URL != "https://a.example.com/x" {
		t.Errorf("URL = %v, want %v", auth.URL, "https://a.example.com/x")
	}
}

// TestCacheKey_Determinism ensures equivalent URLs always produce the same key
func TestCacheKey_Determinism(t *testing.T) {
	a := CacheKey{URL: "https://a.example.com/list?b=2&a=1&c=3"}
	b := CacheKey{URL: "https://A.example.com/list?c=3&a=1&b=2"}

	for i := 0; i < 10; i++ {
		if a.String() != b.String() {
			t.Fatalf("keys differ: %v vs %v", a.String(), b.String())
		}
	}
}
