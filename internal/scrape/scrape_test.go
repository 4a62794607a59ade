package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops scripts and styles",
			in: `<html><head><title>T</title><style>body{}</style></head>
<body><script>var x = 1;</script><p>Acme   Corp</p><noscript>enable js</noscript>
<div>founded
 in 1950</div></body></html>`,
			want: "Acme Corp founded in 1950",
		},
		{name: "fragment", in: "<p>hello <b>world</b></p>", want: "hello world"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractText(tc.in); got != tc.want {
				t.Fatalf("ExtractText()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractTextCapsLength(t *testing.T) {
	doc := "<p>" + strings.Repeat("ñ", DefaultMaxChars+500) + "</p>"
	got := ExtractText(doc)
	if n := utf8.RuneCountInString(got); n != DefaultMaxChars {
		t.Fatalf("length=%d, want %d", n, DefaultMaxChars)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a rune")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent=%q, want browser agent", ua)
		}
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><head><title> Acme  Home </title></head><body><h1>Welcome</h1><script>x()</script></body></html>"))
		case "/latin1":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			_, _ = w.Write([]byte("<p>Espa\xf1a</p>"))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(Options{MaxChars: 100})

	page, err := f.Fetch(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Acme Home" {
		t.Fatalf("Title=%q, want %q", page.Title, "Acme Home")
	}
	if page.Text != "Welcome" {
		t.Fatalf("Text=%q, want %q", page.Text, "Welcome")
	}

	page, err = f.Fetch(context.Background(), srv.URL+"/latin1")
	if err != nil {
		t.Fatalf("Fetch latin1: %v", err)
	}
	if page.Text != "España" {
		t.Fatalf("Text=%q, want España", page.Text)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/pdf"); !errors.Is(err, ErrNotHTML) {
		t.Fatalf("pdf err=%v, want ErrNotHTML", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("404 err=%v, want ErrFetchFailed", err)
	}
}

func TestFetchMatchesExtractText(t *testing.T) {
	doc := `<html><head><title>About</title><style>p{}</style></head><body><p>Acme  makes</p><noscript>js</noscript><p>anvils</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	page, err := NewFetcher(Options{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := ExtractText(doc); page.Text != want {
		t.Fatalf("Fetch text=%q, ExtractText=%q", page.Text, want)
	}
	if page.Text != "Acme makes anvils" {
		t.Fatalf("Text=%q", page.Text)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewFetcher(Options{}).Fetch(context.Background(), url); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err=%v, want ErrFetchFailed", err)
	}
}
