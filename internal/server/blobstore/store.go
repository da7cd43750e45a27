// Package blobstore keeps encrypted file contents in per-region object
// storage.
//
// Uploads land in a temp namespace of the current region. Finalize copies
// them into the dated final namespace of every region. Downloads read the
// current region's final copy.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/ompldr/server/internal/cryptox"
	"github.com/ompldr/server/internal/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Regions       []string
	CurrentRegion string
	// Prefix is prepended to every object key.
	Prefix string
}

type Store struct {
	objects       ObjectStorage
	regions       []string
	currentRegion string
	prefix        string
	logger        logging.Logger
}

func NewStore(objects ObjectStorage, opts Options, logger logging.Logger) (*Store, error) {
	found := false
	for _, r := range opts.Regions {
		if r == opts.CurrentRegion {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("current region %q is not among configured regions %v", opts.CurrentRegion, opts.Regions)
	}
	return &Store{
		objects:       objects,
		regions:       opts.Regions,
		currentRegion: opts.CurrentRegion,
		prefix:        opts.Prefix,
		logger:        logger.With("module", "blobstore"),
	}, nil
}

func (s *Store) tempPrefix() string {
	return path.Join(s.prefix, "tmp") + "/"
}

func (s *Store) tempKey(storageKey string) string {
	return path.Join(s.prefix, "tmp", storageKey)
}

func (s *Store) finalKey(storageKey string, createdAt time.Time) string {
	return path.Join(s.prefix, "final", createdAt.UTC().Format("2006-01-02"), storageKey)
}

// Upload encrypts r with privateKey into the current region's temp
// namespace and returns the number of bytes stored.
func (s *Store) Upload(ctx context.Context, storageKey, privateKey string, r io.Reader) (int64, error) {
	enc, err := cryptox.EncryptReader(privateKey, r)
	if err != nil {
		return 0, err
	}
	n, err := s.objects.Put(ctx, s.currentRegion, s.tempKey(storageKey), enc)
	if err != nil {
		return 0, err
	}
	s.logger.Debug(ctx, "stored temp object", "storage_key", storageKey, "bytes", n)
	return n, nil
}

// Finalize copies the temp object into every region's final namespace and
// then removes it. The temp object is kept if any copy fails so the call
// can be retried.
func (s *Store) Finalize(ctx context.Context, storageKey string, createdAt time.Time) error {
	src := s.tempKey(storageKey)
	dst := s.finalKey(storageKey, createdAt)

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range s.regions {
		g.Go(func() error {
			return s.objects.Copy(gctx, s.currentRegion, src, region, dst)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.objects.Delete(ctx, s.currentRegion, src); err != nil {
		return err
	}
	s.logger.Info(ctx, "finalized object", "storage_key", storageKey, "regions", len(s.regions))
	return nil
}

// OpenEncrypted streams the stored ciphertext, IV header included.
func (s *Store) OpenEncrypted(ctx context.Context, storageKey string, createdAt time.Time) (io.ReadCloser, error) {
	return s.objects.Read(ctx, s.currentRegion, s.finalKey(storageKey, createdAt))
}

// OpenDecrypted streams the plaintext. A wrong privateKey is not detected.
func (s *Store) OpenDecrypted(ctx context.Context, storageKey string, createdAt time.Time, privateKey string) (io.ReadCloser, error) {
	body, err := s.OpenEncrypted(ctx, storageKey, createdAt)
	if err != nil {
		return nil, err
	}
	plain, err := cryptox.DecryptReader(privateKey, body)
	if err != nil {
		_ = body.Close()
		return nil, err
	}
	return &readCloser{Reader: plain, Closer: body}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Delete removes the final object from every region. All regions are
// attempted; failures are combined.
func (s *Store) Delete(ctx context.Context, storageKey string, createdAt time.Time) error {
	key := s.finalKey(storageKey, createdAt)
	var errs error
	for _, region := range s.regions {
		if err := s.objects.Delete(ctx, region, key); err != nil {
			s.logger.Warn(ctx, "failed to delete object", "region", region, "key", key, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// CleanupTemp removes temp objects last modified before olderThan in every
// region and returns how many were removed.
func (s *Store) CleanupTemp(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	var errs error
	for _, region := range s.regions {
		objs, err := s.objects.List(ctx, region, s.tempPrefix())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, obj := range objs {
			if !obj.LastModified.Before(olderThan) {
				continue
			}
			if err := s.objects.Delete(ctx, region, obj.Key); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errs
}
