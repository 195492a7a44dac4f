package stock

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// fakeProxy is an in-memory ProxyStore.
type fakeProxy struct {
	objects map[string][]byte
	fetches atomic.Int64
	broken  bool
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{objects: make(map[string][]byte)}
}

func (p *fakeProxy) Fetch(_ context.Context, key string) ([]byte, error) {
	p.fetches.Add(1)
	if p.broken {
		return nil, errors.New("proxy store offline")
	}
	data, ok := p.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (p *fakeProxy) Store(_ context.Context, key string, data []byte, _ string) error {
	if p.broken {
		return errors.New("proxy store offline")
	}
	p.objects[key] = data
	return nil
}

func TestFetchImageProxyHitSkipsOrigin(t *testing.T) {
	var origin atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		origin.Add(1)
		io.WriteString(w, "png-bytes")
	}))
	defer srv.Close()

	proxy := newFakeProxy()
	proxy.objects[proxyKey(srv.URL+"/a.png")] = []byte("cached-bytes")
	d := NewDownloader(proxy, srv.Client(), discardLogger())

	data, err := d.FetchImage(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if string(data) != "cached-bytes" {
		t.Fatalf("got %q, want proxy copy", data)
	}
	if origin.Load() != 0 {
		t.Fatal("origin must not be contacted on proxy hit")
	}
}

func TestFetchImageFallsBackToOriginAndStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "png-bytes")
	}))
	defer srv.Close()

	proxy := newFakeProxy()
	d := NewDownloader(proxy, srv.Client(), discardLogger())

	url := srv.URL + "/b.png"
	data, err := d.FetchImage(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("got %q", data)
	}
	if string(proxy.objects[proxyKey(url)]) != "png-bytes" {
		t.Fatal("downloaded bytes were not written back to the proxy store")
	}
}

func TestFetchImageProxyFailureDoesNotBlockDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "png-bytes")
	}))
	defer srv.Close()

	proxy := newFakeProxy()
	proxy.broken = true
	d := NewDownloader(proxy, srv.Client(), discardLogger())

	data, err := d.FetchImage(context.Background(), srv.URL+"/c.png")
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestFetchImageOriginError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(newFakeProxy(), srv.Client(), discardLogger())
	if _, err := d.FetchImage(context.Background(), srv.URL+"/gone.png"); err == nil {
		t.Fatal("expected error for 404 origin")
	}
}
