package retry

import (
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
)

// Domains is an ordered list of interchangeable hosts with a shared active
// index. Every request holding the same *Domains rotates the same index.
type Domains struct {
	mu     sync.RWMutex
	hosts  []string
	active atomic.Int32
}

// NewDomains creates a rotation over hosts, starting at the first one.
func NewDomains(hosts ...string) *Domains {
	return &Domains{hosts: slices.Clone(hosts)}
}

// Hosts returns a copy of the rotation order.
func (d *Domains) Hosts() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.hosts)
}

// Len returns the number of hosts.
func (d *Domains) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.hosts)
}

// Active returns the active host and its index, or ("", -1) when empty.
func (d *Domains) Active() (string, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.hosts) == 0 {
		return "", -1
	}
	idx := int(d.active.Load())
	return d.hosts[idx], idx
}

// Reconcile moves host to the front of the rotation, inserting it if
// missing, and makes it active. Hosts are matched without their port; a
// listed entry keeps its own form and a new one is stored without a port.
func (d *Domains) Reconcile(host string) {
	name := hostname(host)
	if name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry := name
	if i := slices.IndexFunc(d.hosts, func(h string) bool { return hostname(h) == name }); i >= 0 {
		entry = d.hosts[i]
		d.hosts = slices.Delete(d.hosts, i, i+1)
	}
	d.hosts = slices.Insert(d.hosts, 0, entry)
	d.active.Store(0)
}

// Rotate advances the active index past used and returns the new active
// index. When another request already rotated away from used the index is
// left alone, so concurrent failures on one host rotate only once.
func (d *Domains) Rotate(used int) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.hosts)
	if n == 0 {
		return -1
	}
	next := int32((used + 1) % n)
	d.active.CompareAndSwap(int32(used), next)
	return int(d.active.Load())
}

// withHost replaces the host of rawURL, keeping any port and everything else.
func withHost(rawURL, host string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" && !hasPort(host) {
		host = host + ":" + port
	}
	u.Host = host
	return u.String(), nil
}

func hasPort(host string) bool {
	u := url.URL{Host: host}
	return u.Port() != ""
}

func hostname(host string) string {
	u := url.URL{Host: host}
	return u.Hostname()
}
