package sftpfs

import (
	"sync"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
)

// conn is a pooled session shared by running operations and open remote
// handles. Leaving the pool retires it; the session closes when the last
// holder releases it.
type conn struct {
	Session
	key    string
	logger zerolog.Logger

	mu      sync.Mutex
	holders int
	retired bool
}

func newConn(key string, s Session, logger zerolog.Logger) *conn {
	return &conn{Session: s, key: key, logger: logger}
}

// acquire registers a holder. A retired conn accepts no new holders.
func (c *conn) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false
	}
	c.holders++
	return true
}

func (c *conn) release() {
	c.mu.Lock()
	c.holders--
	done := c.retired && c.holders == 0
	c.mu.Unlock()
	if done {
		c.close()
	}
}

// retire runs when the pool drops the conn. It is safe to call twice.
func (c *conn) retire() {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return
	}
	c.retired = true
	done := c.holders == 0
	c.mu.Unlock()
	if done {
		c.close()
	}
}

func (c *conn) close() {
	if err := c.Session.Close(); err != nil {
		c.logger.Debug().Err(err).Str("key", c.key).Msg("closing session")
	}
	c.logger.Debug().Str("key", c.key).Msg("session closed")
}

// remoteFile keeps its session open until the handle is closed.
type remoteFile struct {
	*sftp.File
	conn *conn
	once sync.Once
}

func (f *remoteFile) Close() error {
	err := f.File.Close()
	f.once.Do(f.conn.release)
	return err
}
