package types

import (
	"fmt"
	"strings"
)

// Mode selects how Open positions and truncates a file.
type Mode int

const (
	// ModeRead opens for reading from the start.
	ModeRead Mode = iota
	// ModeWrite truncates, or creates, the file.
	ModeWrite
	// ModeReadWrite keeps the content and starts at offset zero.
	ModeReadWrite
	// ModeAppend keeps the content and starts at the end.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read_write"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Writable reports whether the mode permits writing.
func (m Mode) Writable() bool {
	return m != ModeRead
}

// ParseMode accepts the names returned by String and the fopen letters r, w, r+ and a.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "read", "r", "rb":
		return ModeRead, nil
	case "write", "w", "wb":
		return ModeWrite, nil
	case "read_write", "r+", "rb+":
		return ModeReadWrite, nil
	case "append", "a", "ab":
		return ModeAppend, nil
	}
	return ModeRead, fmt.Errorf("unknown open mode %q", s)
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}
