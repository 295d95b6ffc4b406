package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"io"

	"github.com/google/uuid"

	"github.com/cumulusfs/cumulus/internal/logger"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize int64 = 64 * 1024 * 1024

// MinChunkSize is the enforced floor for configured chunk sizes.
const MinChunkSize int64 = 1024 * 1024

// PrimaryHashAlgorithm names the digest that object keys derive from.
const PrimaryHashAlgorithm = "sha256"

// Store is the front door of the object storage layer. It owns the
// backend list, the chunking parameters and the checksum configuration,
// and implements the store/assemble/read/remove/copy pipeline on top of
// the Backend interface.
type Store struct {
	backends  []Backend
	chunkSize int64
	checksums []string
}

// New builds a Store over the given backends, consulted in order.
//
// Both intents are exercised by the pipeline, so initialization fails
// unless at least one backend is tagged temporary and at least one is
// tagged storage (one backend may carry both).
func New(backends []Backend, chunkSize int64, checksums []string) (*Store, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", ErrNoBackend)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	s := &Store{backends: backends, chunkSize: chunkSize, checksums: checksums}
	for _, intent := range []Intent{IntentTemporary, IntentStorage} {
		if s.backendFor(intent) == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoBackend, intent)
		}
	}
	return s, nil
}

// Backends returns the configured backends in consultation order.
func (s *Store) Backends() []Backend {
	return s.backends
}

// BackendByName returns the named backend, or nil.
func (s *Store) BackendByName(name string) Backend {
	for _, b := range s.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// ChunkSize returns the configured chunk size.
func (s *Store) ChunkSize() int64 {
	return s.chunkSize
}

// backendFor returns the first backend tagged with the intent, or nil.
func (s *Store) backendFor(intent Intent) Backend {
	for _, b := range s.backends {
		if b.Intents().Has(intent) {
			return b
		}
	}
	return nil
}

// newHashers returns one hasher per configured algorithm, the primary
// always included. Unknown algorithm names were rejected at config time;
// a stray one here is skipped.
func (s *Store) newHashers() map[string]hash.Hash {
	hs := map[string]hash.Hash{PrimaryHashAlgorithm: sha256.New()}
	for _, alg := range s.checksums {
		switch alg {
		case "sha256":
			// primary, already present
		case "sha1":
			hs["sha1"] = sha1.New()
		case "md5":
			hs["md5"] = md5.New()
		case "adler32":
			hs["adler32"] = adler32.New()
		default:
			logger.Warn("skipping unknown checksum algorithm %q", alg)
		}
	}
	return hs
}

// StoreNewObject streams src into a new object.
//
// The bytes are first written as a chunked temporary object on a
// temporary-intent backend while every configured digest is computed.
// Zero-byte input never touches a final backend location: the result is
// the EmptyObject sentinel and the (empty) temp object is discarded.
// Otherwise the temp object is promoted to a storage-intent backend
// under the deterministic key derived from (hash, size, chunkSize).
// On any failure the partial temp object is removed before the error
// propagates.
func (s *Store) StoreNewObject(ctx context.Context, src io.Reader) (ObjectInfo, error) {
	tempBackend := s.backendFor(IntentTemporary)
	tmpKey := Key("tmp/" + uuid.NewString())

	w := newChunkWriter(ctx, tempBackend, tmpKey, s.chunkSize)
	hashers := s.newHashers()

	writers := make([]io.Writer, 0, len(hashers)+1)
	writers = append(writers, w)
	for _, h := range hashers {
		writers = append(writers, h)
	}

	size, err := io.Copy(io.MultiWriter(writers...), src)
	if err != nil {
		w.Abort()
		return ObjectInfo{}, fmt.Errorf("failed to store object: %w", err)
	}
	if err := w.Close(); err != nil {
		w.Abort()
		return ObjectInfo{}, fmt.Errorf("failed to finalize object: %w", err)
	}

	checksums := make(map[string]string, len(hashers))
	for alg, h := range hashers {
		checksums[alg] = hex.EncodeToString(h.Sum(nil))
	}
	primary := checksums[PrimaryHashAlgorithm]

	info := ObjectInfo{
		Size:      size,
		Hash:      primary,
		ChunkSize: s.chunkSize,
		Checksums: checksums,
	}

	if size == 0 {
		w.Abort()
		info.Key = EmptyObject
		return info, nil
	}

	info.Key = Key(fmt.Sprintf("o/%s-%d-%d", primary, size, s.chunkSize))
	if err := s.promote(ctx, tempBackend, tmpKey, info.Key, w.parts); err != nil {
		s.removeParts(ctx, tempBackend, tmpKey)
		return ObjectInfo{}, err
	}
	return info, nil
}

// promote moves a finished temp object to its final key on a
// storage-intent backend. If the final key already exists the temp copy
// is simply discarded: same bytes, same chunking, same object.
func (s *Store) promote(ctx context.Context, tempBackend Backend, tmpKey, finalKey Key, parts int) error {
	storageBackend := s.backendFor(IntentStorage)

	exists, err := storageBackend.Exists(ctx, partKey(finalKey, 0))
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", finalKey, err)
	}
	if exists {
		s.removeParts(ctx, tempBackend, tmpKey)
		return nil
	}

	if tempBackend == storageBackend {
		for i := 0; i < parts; i++ {
			if err := tempBackend.Rename(ctx, partKey(tmpKey, i), partKey(finalKey, i)); err != nil {
				s.removeParts(ctx, storageBackend, finalKey)
				return fmt.Errorf("failed to promote %s: %w", finalKey, err)
			}
		}
		return nil
	}

	for i := 0; i < parts; i++ {
		if err := s.copyBlob(ctx, tempBackend, storageBackend, partKey(tmpKey, i), partKey(finalKey, i)); err != nil {
			s.removeParts(ctx, storageBackend, finalKey)
			return fmt.Errorf("failed to promote %s: %w", finalKey, err)
		}
	}
	s.removeParts(ctx, tempBackend, tmpKey)
	return nil
}

// copyBlob copies one physical blob between backends.
func (s *Store) copyBlob(ctx context.Context, src, dst Backend, srcKey, dstKey string) error {
	r, err := src.Open(ctx, srcKey)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w, err := dst.Create(ctx, dstKey)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		_ = dst.Delete(ctx, dstKey)
		return err
	}
	return w.Close()
}

// AssembleObject concatenates the byte streams of existing objects, in
// order, into one new object through the regular store pipeline.
// EmptyObject members contribute nothing and are skipped.
func (s *Store) AssembleObject(ctx context.Context, keys []Key) (ObjectInfo, error) {
	readers := make([]io.Reader, 0, len(keys))
	closers := make([]io.Closer, 0, len(keys))
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	for _, key := range keys {
		if key == EmptyObject {
			continue
		}
		r, err := s.OpenReader(ctx, key)
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("failed to open member %s: %w", key, err)
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}

	return s.StoreNewObject(ctx, io.MultiReader(readers...))
}

// OpenReader returns the byte stream of an object, probing backends in
// configured order and returning the first hit.
func (s *Store) OpenReader(ctx context.Context, key Key) (io.ReadCloser, error) {
	if key == EmptyObject {
		return emptyReader{}, nil
	}
	for _, b := range s.backends {
		r, err := newPartReader(ctx, b, key)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
}

// SafeRemoveObject removes an object from all backends if and only if
// the caller's reference is the last or only one: with two or more live
// references in the catalog the removal is a successful no-op. Dependent
// thumbnails are garbage-collected alongside the source object.
//
// Callers that do NOT hold a counted catalog row must use
// RemoveUnreferenced instead.
func (s *Store) SafeRemoveObject(ctx context.Context, refs RefCounter, key Key) error {
	return s.removeBelow(ctx, refs, key, 2)
}

// RemoveUnreferenced removes an object only when no catalog row
// references it at all. It is the removal for rejection and cleanup
// paths where the caller holds no reference of its own: there, content
// that deduplicated onto an existing object is owned by that object's
// references and must survive.
func (s *Store) RemoveUnreferenced(ctx context.Context, refs RefCounter, key Key) error {
	return s.removeBelow(ctx, refs, key, 1)
}

// removeBelow removes the object unless the catalog holds at least
// `keep` references to it.
func (s *Store) removeBelow(ctx context.Context, refs RefCounter, key Key, keep int64) error {
	if key == "" || key == EmptyObject {
		return nil
	}

	count, err := refs.CountObjectRefs(ctx, string(key))
	if err != nil {
		return fmt.Errorf("failed to count references to %s: %w", key, err)
	}
	if count >= keep {
		return nil
	}

	for _, b := range s.backends {
		s.removeParts(ctx, b, key)
	}

	derived, err := refs.RemoveThumbnails(ctx, string(key))
	if err != nil {
		return fmt.Errorf("failed to drop thumbnails of %s: %w", key, err)
	}
	for _, d := range derived {
		for _, b := range s.backends {
			s.removeParts(ctx, b, Key(d))
		}
	}
	return nil
}

// removeParts deletes every physical part of an object from one backend.
func (s *Store) removeParts(ctx context.Context, b Backend, key Key) {
	for i := 0; ; i++ {
		ok, err := b.Exists(ctx, partKey(key, i))
		if err != nil || !ok {
			return
		}
		if err := b.Delete(ctx, partKey(key, i)); err != nil {
			logger.Warn("failed to delete %s from %s: %v", partKey(key, i), b.Name(), err)
			return
		}
	}
}

// Copy streams an object between two named backends under the given
// destination key. Zero bytes copied is reported as ErrNothingCopied
// since it cannot be told apart from a failed transfer. The source is
// removed afterwards when deleteSource is set.
func (s *Store) Copy(ctx context.Context, srcKey Key, src Backend, dstKey Key, dst Backend, deleteSource bool) (int64, error) {
	r, err := newPartReader(ctx, src, srcKey)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	w := newChunkWriter(ctx, dst, dstKey, s.chunkSize)
	n, err := io.Copy(w, r)
	if err != nil {
		w.Abort()
		return n, fmt.Errorf("failed to copy %s: %w", srcKey, err)
	}
	if err := w.Close(); err != nil {
		w.Abort()
		return n, fmt.Errorf("failed to finalize copy of %s: %w", srcKey, err)
	}
	if n == 0 {
		w.Abort()
		return 0, ErrNothingCopied
	}

	if deleteSource {
		s.removeParts(ctx, src, srcKey)
	}
	return n, nil
}
