package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/haukened/rr-pac/internal/pac/pacscript"
)

// BlobStore publishes PAC payloads under stable URLs, the way a browser hands
// out object URLs for in-memory blobs. The active blob is also served at
// /proxy.pac.
type BlobStore struct {
	mu      sync.RWMutex
	base    string
	blobs   map[string][]byte
	current string
}

// NewBlobStore returns a store whose URLs are rooted at base, e.g.
// "http://127.0.0.1:8080".
func NewBlobStore(base string) *BlobStore {
	return &BlobStore{base: strings.TrimRight(base, "/"), blobs: make(map[string][]byte)}
}

// Publish stores payload and returns its URL. Identical payloads share a URL.
// The blob is not served at /proxy.pac until it is activated.
func (b *BlobStore) Publish(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	id := hex.EncodeToString(sum[:8])

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[id] = []byte(payload)
	return b.urlFor(id)
}

// Activate serves the blob behind url at /proxy.pac. Unknown URLs are ignored.
func (b *BlobStore) Activate(url string) {
	id, ok := b.idFor(url)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, live := b.blobs[id]; live {
		b.current = id
	}
}

// Revoke removes the blob behind url. Unknown URLs are ignored.
func (b *BlobStore) Revoke(url string) {
	id, ok := b.idFor(url)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, id)
	if b.current == id {
		b.current = ""
	}
}

// Current returns the active payload.
func (b *BlobStore) Current() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == "" {
		return "", false
	}
	return string(b.blobs[b.current]), true
}

// Len returns the number of live blobs.
func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// ServeHTTP serves /proxy.pac and /pac/<id>.pac. Missing blobs are 404.
func (b *BlobStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var (
		data []byte
		ok   bool
	)
	b.mu.RLock()
	switch {
	case r.URL.Path == "/proxy.pac":
		data, ok = b.blobs[b.current]
	case strings.HasPrefix(r.URL.Path, "/pac/"):
		data, ok = b.blobs[strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pac/"), ".pac")]
	}
	b.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", pacscript.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (b *BlobStore) urlFor(id string) string {
	return b.base + "/pac/" + id + ".pac"
}

func (b *BlobStore) idFor(url string) (string, bool) {
	prefix := b.base + "/pac/"
	if !strings.HasPrefix(url, prefix) || !strings.HasSuffix(url, ".pac") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(url, prefix), ".pac"), true
}
