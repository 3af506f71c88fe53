package metrics

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/vfs/pkg/errors"
)

type ref string

func (r ref) String() string { return string(r) }

func TestNewCollector(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		enabled bool
	}{
		{"nil config enables defaults", nil, true},
		{"disabled", &Config{Enabled: false}, false},
		{"custom namespace", &Config{Enabled: true, Namespace: "test"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCollector(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, c.Registry() != nil)
		})
	}
}

func TestRecordOperation(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "t"})
	require.NoError(t, err)

	c.RecordOperation("mem", "exists", time.Millisecond, nil)
	c.RecordOperation("mem", "exists", time.Millisecond, nil)
	c.RecordOperation("mem", "open", time.Millisecond, errors.NotFound(ref("mem:/x")))
	c.RecordOperation("http", "open", time.Millisecond, fmt.Errorf("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("mem", "exists", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("mem", "open", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("http", "open", "error")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.operationDuration))
}

func TestRecordCacheAndAuth(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordCacheHit("webdav_metadata")
	c.RecordCacheMiss("webdav_metadata")
	c.RecordCacheMiss("webdav_metadata")
	c.RecordAuthPrompt("sftp")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheCounter.WithLabelValues("webdav_metadata", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheCounter.WithLabelValues("webdav_metadata", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authPrompts.WithLabelValues("sftp")))
}

func TestDisabledCollectorIgnoresRecords(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		c.RecordOperation("mem", "exists", time.Millisecond, nil)
		c.RecordCacheHit("x")
		c.RecordCacheMiss("x")
		c.RecordAuthPrompt("webdav")
	})
}

func TestHandlerExposition(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "peppy_vfs"})
	require.NoError(t, err)
	c.RecordOperation("file", "get_size", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "peppy_vfs_operations_total"), body)
	assert.Contains(t, body, `operation="get_size"`)
}
