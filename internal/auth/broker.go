// Package auth routes authentication failures to a caller supplied callback
// and remembers the credentials that worked.
package auth

import (
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/peppy/vfs/internal/cache"
	"github.com/peppy/vfs/pkg/errors"
	"github.com/peppy/vfs/pkg/types"
)

// Credentials is a username and password pair.
type Credentials struct {
	Username string
	Password string
}

// Callback asks for credentials. ok is false when the user cancelled.
// suggested is a username to prefill, typically taken from the reference.
type Callback func(host, scheme, realm, suggested string) (creds Credentials, ok bool)

// Broker owns the authentication callback and the credential cache shared by
// the network handlers. Handlers must only call Prompt after the server
// rejected a request.
type Broker struct {
	mu       sync.RWMutex
	callback Callback
	creds    *cache.Cache[Credentials]
	metrics  types.MetricsCollector
}

// NewBroker creates a broker holding up to entries cached credentials.
func NewBroker(callback Callback, entries int) *Broker {
	return &Broker{
		callback: callback,
		creds:    cache.NewLRU[Credentials](cache.CacheConfig{Name: "credentials", MaxEntries: entries}, nil),
	}
}

// SetCallback replaces the callback. A nil callback cancels every prompt.
func (b *Broker) SetCallback(callback Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = callback
}

// SetMetrics attaches a collector that counts prompts and credential cache lookups.
func (b *Broker) SetMetrics(m types.MetricsCollector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
	b.creds.SetRecorder(m)
}

func key(host, port string) string {
	return net.JoinHostPort(host, port)
}

// Lookup returns the cached credentials for host:port.
func (b *Broker) Lookup(host, port string) (Credentials, bool) {
	return b.creds.Get(key(host, port))
}

// Store caches credentials the server accepted.
func (b *Broker) Store(host, port string, creds Credentials) {
	b.creds.Put(key(host, port), creds)
}

// Forget drops the cached credentials for host:port, after the server rejected them.
func (b *Broker) Forget(host, port string) {
	b.creds.Remove(key(host, port))
}

// Prompt invokes the callback. It returns an AUTH_CANCELLED error when the
// user cancels or no callback is registered. Prompted credentials are not
// cached; the caller stores them once the server accepts them.
func (b *Broker) Prompt(host, scheme, realm, suggested string) (Credentials, error) {
	b.mu.RLock()
	callback, metrics := b.callback, b.metrics
	b.mu.RUnlock()

	if metrics != nil {
		metrics.RecordAuthPrompt(scheme)
	}
	if callback == nil {
		return Credentials{}, errors.AuthCancelled(host).WithComponent("auth")
	}

	log.Info().Str("host", host).Str("scheme", scheme).Str("realm", realm).Msg("requesting credentials")
	creds, ok := callback(host, scheme, realm, suggested)
	if !ok {
		return Credentials{}, errors.AuthCancelled(host).WithComponent("auth")
	}
	return creds, nil
}
