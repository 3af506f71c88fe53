package vfs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peppy/vfs/internal/auth"
	"github.com/peppy/vfs/internal/config"
	"github.com/peppy/vfs/internal/storage/archive"
	"github.com/peppy/vfs/internal/storage/httpfs"
	"github.com/peppy/vfs/internal/storage/mem"
	"github.com/peppy/vfs/internal/storage/s3"
	"github.com/peppy/vfs/internal/storage/sftpfs"
	"github.com/peppy/vfs/internal/storage/webdav"
	"github.com/peppy/vfs/pkg/retry"
	"github.com/peppy/vfs/pkg/types"
	"github.com/peppy/vfs/pkg/uri"
)

// Options configure NewDefault.
type Options struct {
	// Config defaults to config.NewDefault().
	Config *config.Configuration

	// Callback answers authentication prompts. Nil cancels them.
	Callback auth.Callback

	// Metrics, when set, receives every operation and cache event.
	Metrics types.MetricsCollector

	Logger zerolog.Logger

	// S3 replaces the client built from Config.S3.
	S3 s3.ObjectAPI
}

// NewDefault builds a dispatcher with every built-in scheme: file, mem,
// http, https, webdav, webdavs, sftp, tar, zip and, when enabled, s3.
func NewDefault(ctx context.Context, opts Options) (*VFS, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger

	broker := auth.NewBroker(opts.Callback, cfg.Cache.CredentialEntries)
	v := New(broker, logger)

	rc := retry.Config{
		MaxAttempts:  cfg.Network.Retry.MaxAttempts,
		InitialDelay: cfg.Network.Retry.InitialDelay,
		MaxDelay:     cfg.Network.Retry.MaxDelay,
	}

	v.Register("mem", mem.New(logger))

	web := httpfs.New(httpfs.Config{
		Timeout:   cfg.Network.RequestTimeout,
		UserAgent: cfg.Network.UserAgent,
		Retry:     rc,
	}, logger)
	v.Register("http", web)
	v.Register("https", web)

	dav := webdav.New(webdav.Config{
		Timeout:            cfg.Network.RequestTimeout,
		UserAgent:          cfg.Network.UserAgent,
		MetadataTTL:        cfg.Cache.MetadataTTL,
		MetadataMaxEntries: cfg.Cache.MetadataMaxEntries,
		RedirectMaxEntries: cfg.Cache.RedirectMaxEntries,
		Retry:              rc,
	}, broker, logger)
	v.Register("webdav", dav)
	v.Register("webdavs", dav)

	v.Register("sftp", sftpfs.New(sftpfs.Config{
		DefaultPort:   strconv.Itoa(cfg.SFTP.DefaultPort),
		ConnectionTTL: cfg.Cache.ConnectionTTL,
		ConnectionMax: cfg.Cache.ConnectionMax,
		Timeout:       cfg.Network.RequestTimeout,
		HostKeys: sftpfs.HostKeyConfig{
			KnownHostsFile: cfg.SFTP.KnownHostsFile,
			Insecure:       cfg.SFTP.InsecureIgnoreHostKey,
		},
	}, broker, logger))

	arc := archive.New(archive.Config{MaxEntries: cfg.Cache.ArchiveMaxEntries}, logger)
	v.Register("tar", arc)
	v.Register("zip", arc)

	if cfg.S3.Enabled || opts.S3 != nil {
		api := opts.S3
		if api == nil {
			client, err := s3.NewClient(ctx, &s3.Config{
				Region:          cfg.S3.Region,
				Endpoint:        cfg.S3.Endpoint,
				AccessKeyID:     cfg.S3.AccessKeyID,
				SecretAccessKey: cfg.S3.SecretAccessKey,
				ForcePathStyle:  cfg.S3.ForcePathStyle,
				MaxRetries:      cfg.Network.Retry.MaxAttempts,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create S3 client: %w", err)
			}
			api = client
		}
		v.Register("s3", s3.New(api, logger))
	}

	if opts.Metrics != nil {
		v.SetMetrics(opts.Metrics)
	}
	v.logger.Debug().Strs("schemes", v.Schemes()).Msg("dispatcher ready")
	return v, nil
}

var (
	defaultOnce sync.Once
	defaultVFS  *VFS
)

// Default returns the process-wide dispatcher, built on first use from the
// default configuration and the global logger.
func Default() *VFS {
	defaultOnce.Do(func() {
		v, err := NewDefault(context.Background(), Options{Logger: log.Logger})
		if err != nil {
			log.Error().Err(err).Msg("default dispatcher falls back to the file scheme")
			v = New(nil, log.Logger)
		}
		defaultVFS = v
	})
	return defaultVFS
}

// RegisterFileSystem installs h for scheme on the default dispatcher.
func RegisterFileSystem(scheme string, h types.Handler) {
	Default().Register(scheme, h)
}

// DeregisterFileSystem removes scheme from the default dispatcher.
func DeregisterFileSystem(scheme string) error {
	return Default().Deregister(scheme)
}

// RegisterAuthenticationCallback sets the callback the default dispatcher's
// network handlers prompt through.
func RegisterAuthenticationCallback(cb auth.Callback) {
	Default().Broker().SetCallback(cb)
}

// The functions below take reference strings and run on the default
// dispatcher.

func Exists(ctx context.Context, ref string) (bool, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return false, err
	}
	return Default().Exists(ctx, r)
}

func IsFile(ctx context.Context, ref string) (bool, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return false, err
	}
	return Default().IsFile(ctx, r)
}

func IsFolder(ctx context.Context, ref string) (bool, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return false, err
	}
	return Default().IsFolder(ctx, r)
}

func CanRead(ctx context.Context, ref string) (bool, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return false, err
	}
	return Default().CanRead(ctx, r)
}

func CanWrite(ctx context.Context, ref string) (bool, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return false, err
	}
	return Default().CanWrite(ctx, r)
}

func GetSize(ctx context.Context, ref string) (int64, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return 0, err
	}
	return Default().GetSize(ctx, r)
}

func GetMtime(ctx context.Context, ref string) (time.Time, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return time.Time{}, err
	}
	return Default().GetMtime(ctx, r)
}

func GetAtime(ctx context.Context, ref string) (time.Time, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return time.Time{}, err
	}
	return Default().GetAtime(ctx, r)
}

func GetCtime(ctx context.Context, ref string) (time.Time, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return time.Time{}, err
	}
	return Default().GetCtime(ctx, r)
}

func GetMimetype(ctx context.Context, ref string) (string, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return "", err
	}
	return Default().GetMimetype(ctx, r)
}

func MakeFile(ctx context.Context, ref string) (types.File, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return nil, err
	}
	return Default().MakeFile(ctx, r)
}

func MakeFolder(ctx context.Context, ref string) error {
	r, err := uri.Parse(ref)
	if err != nil {
		return err
	}
	return Default().MakeFolder(ctx, r)
}

func Remove(ctx context.Context, ref string) error {
	r, err := uri.Parse(ref)
	if err != nil {
		return err
	}
	return Default().Remove(ctx, r)
}

func Open(ctx context.Context, ref string, mode types.Mode) (types.File, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return nil, err
	}
	return Default().Open(ctx, r, mode)
}

func GetNames(ctx context.Context, ref string) ([]string, error) {
	r, err := uri.Parse(ref)
	if err != nil {
		return nil, err
	}
	return Default().GetNames(ctx, r)
}

func Copy(ctx context.Context, src, dst string) error {
	s, d, err := parsePair(src, dst)
	if err != nil {
		return err
	}
	return Default().Copy(ctx, s, d)
}

func Move(ctx context.Context, src, dst string) error {
	s, d, err := parsePair(src, dst)
	if err != nil {
		return err
	}
	return Default().Move(ctx, s, d)
}

func Traverse(ctx context.Context, ref string, fn TraverseFunc) error {
	r, err := uri.Parse(ref)
	if err != nil {
		return err
	}
	return Default().Traverse(ctx, r, fn)
}

func parsePair(src, dst string) (uri.Reference, uri.Reference, error) {
	s, err := uri.Parse(src)
	if err != nil {
		return uri.Reference{}, uri.Reference{}, err
	}
	d, err := uri.Parse(dst)
	if err != nil {
		return uri.Reference{}, uri.Reference{}, err
	}
	return s, d, nil
}
