package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/vfs/pkg/errors"
)

type countingMetrics struct {
	mu      sync.Mutex
	prompts map[string]int
}

func (m *countingMetrics) RecordOperation(string, string, time.Duration, error) {}
func (m *countingMetrics) RecordCacheHit(string)                                {}
func (m *countingMetrics) RecordCacheMiss(string)                               {}
func (m *countingMetrics) RecordAuthPrompt(scheme string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts[scheme]++
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		name     string
		callback Callback
		want     Credentials
		wantCode errors.ErrorCode
	}{
		{
			name: "accepted",
			callback: func(host, scheme, realm, suggested string) (Credentials, bool) {
				return Credentials{Username: suggested, Password: "pw"}, true
			},
			want: Credentials{Username: "alice", Password: "pw"},
		},
		{
			name: "cancelled",
			callback: func(string, string, string, string) (Credentials, bool) {
				return Credentials{}, false
			},
			wantCode: errors.ErrCodeAuthCancelled,
		},
		{
			name:     "no callback",
			callback: nil,
			wantCode: errors.ErrCodeAuthCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroker(tt.callback, 8)
			got, err := b.Prompt("example.com", "webdav", "dav", "alice")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrAuthCancelled))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromptDoesNotCache(t *testing.T) {
	b := NewBroker(func(string, string, string, string) (Credentials, bool) {
		return Credentials{Username: "u", Password: "p"}, true
	}, 8)

	_, err := b.Prompt("h", "sftp", "", "")
	require.NoError(t, err)

	_, ok := b.Lookup("h", "22")
	assert.False(t, ok)
}

func TestCredentialCache(t *testing.T) {
	b := NewBroker(nil, 8)
	creds := Credentials{Username: "u", Password: "p"}

	b.Store("h", "22", creds)
	got, ok := b.Lookup("h", "22")
	require.True(t, ok)
	assert.Equal(t, creds, got)

	_, ok = b.Lookup("h", "2222")
	assert.False(t, ok, "credentials are keyed by port")

	b.Forget("h", "22")
	_, ok = b.Lookup("h", "22")
	assert.False(t, ok)
}

func TestSetCallbackReplaces(t *testing.T) {
	b := NewBroker(func(string, string, string, string) (Credentials, bool) {
		return Credentials{Username: "first"}, true
	}, 8)
	b.SetCallback(func(string, string, string, string) (Credentials, bool) {
		return Credentials{Username: "second"}, true
	})

	got, err := b.Prompt("h", "webdav", "", "")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Username)
}

func TestPromptRecordsMetric(t *testing.T) {
	m := &countingMetrics{prompts: map[string]int{}}
	b := NewBroker(nil, 8)
	b.SetMetrics(m)

	_, _ = b.Prompt("h", "sftp", "", "")
	_, _ = b.Prompt("h", "sftp", "", "")
	assert.Equal(t, 2, m.prompts["sftp"])
}
