package scrape

import "sync"

// ProxyRing hands out proxy URLs round-robin. An empty ring means direct
// connections: Next returns "".
type ProxyRing struct {
	mu      sync.Mutex
	proxies []string
	next    int
}

// NewProxyRing builds a ring over the given proxy URLs.
func NewProxyRing(proxies []string) *ProxyRing {
	return &ProxyRing{proxies: proxies}
}

// Next returns the next proxy in rotation, or "" when the ring is empty.
func (r *ProxyRing) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return ""
	}
	p := r.proxies[r.next%len(r.proxies)]
	r.next++
	return p
}

// Size reports how many proxies are configured.
func (r *ProxyRing) Size() int {
	return len(r.proxies)
}
