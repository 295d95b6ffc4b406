package vfs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
	"github.com/cumulusfs/cumulus/pkg/storage"
	"github.com/cumulusfs/cumulus/pkg/storage/membackend"
)

var testDBSeq atomic.Int64

// newTestBackend builds one in-memory catalog and object store shared by
// all identities of a test.
func newTestBackend(t *testing.T) (*catalog.Catalog, *storage.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:vfs_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	cat, err := catalog.Open("sqlite", dsn)
	require.NoError(t, err)

	mem := membackend.New("mem", storage.IntentTemporary|storage.IntentStorage)
	store, err := storage.New([]storage.Backend{mem}, storage.MinChunkSize, []string{"md5"})
	require.NoError(t, err)
	return cat, store
}

func userContext(cat *catalog.Catalog, store *storage.Store, userID uint64) *Context {
	return NewContext(cat, store, Identity{Kind: IdentityUser, UserID: userID})
}

func userRoot(t *testing.T, rc *Context) *Directory {
	t.Helper()
	root, err := rc.Root(context.Background())
	require.NoError(t, err)
	return root
}

func putFile(t *testing.T, d *Directory, name, content string) *File {
	t.Helper()
	f, err := d.CreateFile(context.Background(), name, strings.NewReader(content), int64(len(content)), "")
	require.NoError(t, err)
	return f
}

func readAll(t *testing.T, f *File) string {
	t.Helper()
	r, err := f.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

// mountShare creates the share grant on target and a link inode in the
// recipient's root, returning the share.
func mountShare(t *testing.T, cat *catalog.Catalog, target *catalog.Inode, grant string, recipientRoot *catalog.Inode, name string) *catalog.InodeShare {
	t.Helper()
	ctx := context.Background()

	share := &catalog.InodeShare{InodeID: target.ID, SharerID: target.OwnerID, Permissions: grant}
	require.NoError(t, cat.CreateShare(ctx, share))

	link := &catalog.Inode{
		ParentID:   &recipientRoot.ID,
		OwnerID:    recipientRoot.OwnerID,
		Type:       catalog.TypeLink,
		Name:       name,
		Modified:   time.Now(),
		LinkTarget: &share.ID,
	}
	require.NoError(t, cat.SaveInode(ctx, link))
	return share
}

func TestValidateChecksum(t *testing.T) {
	rc := &Context{}
	sums := map[string]string{"md5": "abcdef01", "sha256": "1234"}

	assert.NoError(t, rc.ValidateChecksum("", sums))
	assert.NoError(t, rc.ValidateChecksum("MD5:ABCDEF01", sums), "comparison is case-insensitive")
	assert.NoError(t, rc.ValidateChecksum("crc32:whatever", sums), "unknown algorithm is ignored")
	assert.ErrorIs(t, rc.ValidateChecksum("md5:ffffffff", sums), ErrBadRequest)
	assert.ErrorIs(t, rc.ValidateChecksum("garbage", sums), ErrBadRequest)
	assert.ErrorIs(t, rc.ValidateChecksum("md5:", sums), ErrBadRequest)
}

func TestValidateLength(t *testing.T) {
	rc := &Context{}
	assert.NoError(t, rc.ValidateLength(-1, 42), "negative means not declared")
	assert.NoError(t, rc.ValidateLength(42, 42))
	assert.ErrorIs(t, rc.ValidateLength(41, 42), ErrBadRequest)
}

func TestCreateFileRoundTrip(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)

	before := root.Etag()
	f := putFile(t, root, "hello.txt", "hello world")
	assert.Equal(t, "hello world", readAll(t, f))
	assert.Equal(t, int64(11), f.Size())

	reloaded, err := cat.InodeByID(context.Background(), root.Inode().ID)
	require.NoError(t, err)
	assert.NotEqual(t, before, reloaded.Etag, "upload must bump the parent etag")
}

func TestCreateFileChecksumMismatchLeavesNothing(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)

	_, err := root.CreateFile(context.Background(), "x.bin", strings.NewReader("data"), -1, "md5:0000")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = root.Child(context.Background(), "x.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutCreatesVersions(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)

	f := putFile(t, root, "notes.txt", "v1")
	require.NoError(t, f.Put(context.Background(), strings.NewReader("v2 content"), -1, ""))

	versions, err := f.Versions(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 2)

	assert.Equal(t, "v2 content", readAll(t, f))

	// Restoring the oldest version binds a third row to its object.
	oldest := versions[len(versions)-1]
	require.NoError(t, f.RestoreVersion(context.Background(), oldest.ID))
	assert.Equal(t, "v1", readAll(t, f))

	versions, err = f.Versions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 3)
}

func TestIncrementalName(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	putFile(t, root, "doc.txt", "a")
	putFile(t, root, "doc (1).txt", "b")

	name, err := IncrementalName(ctx, rc, root.Inode().ID, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "doc (2).txt", name)

	name, err = IncrementalName(ctx, rc, root.Inode().ID, "free.txt")
	require.NoError(t, err)
	assert.Equal(t, "free.txt", name)
}

func TestMkdirAndConflicts(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	_, err := root.Mkdir(ctx, "docs")
	require.NoError(t, err)
	_, err = root.Mkdir(ctx, "docs")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = root.Mkdir(ctx, "a/b")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMoveIntoOwnSubtreeRejected(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	outer, err := root.Mkdir(ctx, "outer")
	require.NoError(t, err)
	inner, err := outer.Mkdir(ctx, "inner")
	require.NoError(t, err)

	err = outer.Move(ctx, inner, "")
	assert.ErrorIs(t, err, ErrConflict)

	// The failed move left the tree untouched.
	n, err := cat.InodeByID(ctx, outer.Inode().ID)
	require.NoError(t, err)
	assert.Equal(t, root.Inode().ID, *n.ParentID)
}

func TestMoveIntoDescendantThroughShareRejected(t *testing.T) {
	cat, store := newTestBackend(t)
	ctx := context.Background()

	// User 1 owns P. User 2 owns R and shares it; the mount of R lives
	// inside P. C sits physically inside R, so C is a descendant of P
	// only through the mount edge.
	rcA := userContext(cat, store, 1)
	rootA := userRoot(t, rcA)
	p, err := rootA.Mkdir(ctx, "P")
	require.NoError(t, err)

	rcB := userContext(cat, store, 2)
	rootB := userRoot(t, rcB)
	r, err := rootB.Mkdir(ctx, "R")
	require.NoError(t, err)
	c, err := r.Mkdir(ctx, "C")
	require.NoError(t, err)

	mountShare(t, cat, r.Inode(), "WDNVCK", p.Inode(), "R")

	inside, err := VisibleIn(ctx, rcA, c.Inode().ID, p.Inode().ID)
	require.NoError(t, err)
	assert.True(t, inside, "C must be visible in P through the mount")

	// Moving P into C would put P inside its own subtree.
	cNode, err := FromInode(ctx, rcA, c.Inode(), perm.DefaultOwned|perm.Reshare)
	require.NoError(t, err)
	err = p.Move(ctx, cNode.(*Directory), "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestShareScenario(t *testing.T) {
	cat, store := newTestBackend(t)
	ctx := context.Background()

	// User 1 shares folder F ("WNVCK": write, rename, move, add, mkdir,
	// no delete) with user 2.
	rcA := userContext(cat, store, 1)
	rootA := userRoot(t, rcA)
	f, err := rootA.Mkdir(ctx, "F")
	require.NoError(t, err)

	rootB, err := cat.RootFor(ctx, 2)
	require.NoError(t, err)
	mountShare(t, cat, f.Inode(), "WNVCK", rootB, "F")

	etagBefore, err := cat.InodeByID(ctx, f.Inode().ID)
	require.NoError(t, err)

	// User 2 resolves the mount and creates a file through it.
	rcB := userContext(cat, store, 2)
	rootBDir := userRoot(t, rcB)
	mount, err := rootBDir.Child(ctx, "F")
	require.NoError(t, err)

	mountDir := mount.(*Directory)
	assert.True(t, mountDir.Perms().Can(perm.IsMounted))
	assert.True(t, mountDir.InnerPerms().Can(perm.AddFile))
	assert.False(t, mountDir.InnerPerms().Can(perm.Delete), "grant carries no delete")

	x, err := mountDir.CreateFile(ctx, "x.txt", strings.NewReader("from B"), -1, "")
	require.NoError(t, err)

	// The new file is tree-owned by user 1, no matter who created it.
	assert.True(t, x.Inode().OwnedBy(1))

	// User 1 observes F's etag change.
	etagAfter, err := cat.InodeByID(ctx, f.Inode().ID)
	require.NoError(t, err)
	assert.NotEqual(t, etagBefore.Etag, etagAfter.Etag)

	// User 2 drops the mount from their tree; x survives under 1's F.
	require.NoError(t, mount.Delete(ctx))
	stillThere, err := cat.FindChild(ctx, f.Inode().ID, "x.txt", nil)
	require.NoError(t, err)
	assert.False(t, stillThere.IsDeleted())
}

func TestSharedFileWritableThroughMount(t *testing.T) {
	cat, store := newTestBackend(t)
	ctx := context.Background()

	// User 1 shares a single file, not a folder, with write rights.
	rcA := userContext(cat, store, 1)
	rootA := userRoot(t, rcA)
	doc := putFile(t, rootA, "doc.txt", "original")

	rootB, err := cat.RootFor(ctx, 2)
	require.NoError(t, err)
	mountShare(t, cat, doc.Inode(), "W", rootB, "doc.txt")

	rcB := userContext(cat, store, 2)
	rootBDir := userRoot(t, rcB)
	mounted, err := rootBDir.Child(ctx, "doc.txt")
	require.NoError(t, err)

	file := mounted.(*File)
	assert.True(t, file.Perms().Can(perm.IsMounted))
	require.NoError(t, file.Put(ctx, strings.NewReader("updated by B"), -1, ""))

	// The owner sees the new content and both versions.
	fresh, err := rootA.Child(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "updated by B", readAll(t, fresh.(*File)))

	versions, err := fresh.(*File).Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// The write grant also covers version management on the target.
	mounted, err = rootBDir.Child(ctx, "doc.txt")
	require.NoError(t, err)
	require.NoError(t, mounted.(*File).RestoreVersion(ctx, versions[1].ID))
	fresh, err = rootA.Child(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "original", readAll(t, fresh.(*File)))
}

func TestRejectedUploadKeepsDeduplicatedContent(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	keep := putFile(t, root, "keep.txt", "shared bytes")

	// Identical content with a wrong declared length: the rejected
	// upload deduplicates onto keep.txt's object, and the cleanup of
	// the rejected blob must leave that object alone.
	_, err := root.CreateFile(ctx, "dup.txt", strings.NewReader("shared bytes"), 999, "")
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = root.Child(ctx, "dup.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "shared bytes", readAll(t, keep))
}

func TestMountCannotLeaveOwnerTree(t *testing.T) {
	cat, store := newTestBackend(t)
	ctx := context.Background()

	rcA := userContext(cat, store, 1)
	rootA := userRoot(t, rcA)
	shared, err := rootA.Mkdir(ctx, "shared")
	require.NoError(t, err)

	rootB, err := cat.RootFor(ctx, 2)
	require.NoError(t, err)
	mountShare(t, cat, shared.Inode(), "WDNVCKR", rootB, "shared")

	rcB := userContext(cat, store, 2)
	rootBDir := userRoot(t, rcB)
	mount, err := rootBDir.Child(ctx, "shared")
	require.NoError(t, err)

	// Destination owned by user 1, reached through the mount itself.
	destNode, err := mount.(*Directory).Mkdir(ctx, "sub")
	require.NoError(t, err)
	err = mount.Move(ctx, destNode, "")
	assert.ErrorIs(t, err, ErrConflict, "mount into its own target is a loop")

	// Destination in user 1's tree outside the mount: cross-owner.
	other, err := rootA.Mkdir(ctx, "other")
	require.NoError(t, err)
	otherNode, err := FromInode(ctx, rcB, other.Inode(), perm.DefaultOwned)
	require.NoError(t, err)
	err = mount.Move(ctx, otherNode.(*Directory), "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCopySharesBlob(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	f := putFile(t, root, "orig.txt", "shared bytes")
	require.NoError(t, f.Put(ctx, strings.NewReader("second version"), -1, ""))

	docs, err := root.Mkdir(ctx, "docs")
	require.NoError(t, err)

	clone, err := f.CopyTo(ctx, docs, "")
	require.NoError(t, err)
	assert.Equal(t, "orig.txt", clone.Name())
	assert.Equal(t, "second version", readAll(t, clone.(*File)))

	// Only the current version travels.
	versions, err := clone.(*File).Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	// Same storage object, not a byte copy.
	origVersions, err := f.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, origVersions[0].Object, versions[0].Object)
}

func TestDirectoryCopyRecursive(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	src, err := root.Mkdir(ctx, "src")
	require.NoError(t, err)
	sub, err := src.Mkdir(ctx, "sub")
	require.NoError(t, err)
	putFile(t, sub, "deep.txt", "deep")
	putFile(t, src, "top.txt", "top")

	dst, err := root.Mkdir(ctx, "dst")
	require.NoError(t, err)

	clone, err := src.CopyTo(ctx, dst, "")
	require.NoError(t, err)

	cloneDir := clone.(*Directory)
	children, err := cloneDir.Children(ctx)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	subClone, err := cloneDir.Child(ctx, "sub")
	require.NoError(t, err)
	deep, err := subClone.(*Directory).Child(ctx, "deep.txt")
	require.NoError(t, err)
	assert.Equal(t, "deep", readAll(t, deep.(*File)))
}

func TestStrictPath(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	a, err := root.Mkdir(ctx, "a")
	require.NoError(t, err)
	b, err := a.Mkdir(ctx, "b")
	require.NoError(t, err)
	f := putFile(t, b, "f.txt", "x")

	path, err := StrictPath(ctx, rc, f.Inode().ID)
	require.NoError(t, err)
	assert.Equal(t, "/a/b/f.txt", path)

	path, err = StrictPath(ctx, rc, root.Inode().ID)
	require.NoError(t, err)
	assert.Equal(t, "/", path)

	// A chain crossing owners yields no path.
	foreign := uint64(99)
	n, err := cat.InodeByID(ctx, f.Inode().ID)
	require.NoError(t, err)
	n.OwnerID = &foreign
	require.NoError(t, cat.SaveInode(ctx, n))

	_, err = StrictPath(ctx, rc, n.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrashLifecycle(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	f := putFile(t, root, "doomed.txt", "bytes")
	require.NoError(t, f.Delete(ctx))

	items, err := rc.TrashList(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, QualifiedName(f.Inode()), items[0].QualifiedName)
	assert.Equal(t, "/doomed.txt", items[0].OriginalPath)

	// A new live file blocks the restore.
	putFile(t, root, "doomed.txt", "replacement")
	assert.ErrorIs(t, rc.Restore(ctx, f.Inode().ID), ErrConflict)

	// Purge removes rows and bytes.
	version, err := cat.VersionsOf(ctx, f.Inode().ID)
	require.NoError(t, err)
	require.Len(t, version, 1)

	require.NoError(t, rc.Purge(ctx, f.Inode().ID))

	_, err = cat.InodeByID(ctx, f.Inode().ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = store.OpenReader(ctx, storage.Key(version[0].Object))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestPurgeKeepsSharedBlobs(t *testing.T) {
	cat, store := newTestBackend(t)
	rc := userContext(cat, store, 1)
	root := userRoot(t, rc)
	ctx := context.Background()

	f := putFile(t, root, "orig.txt", "keep me")
	clone, err := f.CopyTo(ctx, root, "copy.txt")
	require.NoError(t, err)

	require.NoError(t, f.Delete(ctx))
	require.NoError(t, rc.Purge(ctx, f.Inode().ID))

	// The copy still reads: its reference kept the object alive.
	assert.Equal(t, "keep me", readAll(t, clone.(*File)))
}

func TestLockCoverageThroughMount(t *testing.T) {
	cat, store := newTestBackend(t)
	ctx := context.Background()

	rcA := userContext(cat, store, 1)
	rootA := userRoot(t, rcA)
	f, err := rootA.Mkdir(ctx, "F")
	require.NoError(t, err)
	file := putFile(t, f, "locked.txt", "x")

	rootB, err := cat.RootFor(ctx, 2)
	require.NoError(t, err)
	mountShare(t, cat, f.Inode(), "WDNVCK", rootB, "F")

	// User 2 takes a deep lock on the mount point; the resolved node is
	// the shared folder itself.
	rcB := userContext(cat, store, 2)
	rootBDir := userRoot(t, rcB)
	mount, err := rootBDir.Child(ctx, "F")
	require.NoError(t, err)

	lock, err := mount.(*Directory).Lock(ctx, LockSpec{Depth: catalog.LockDepthDeep, Scope: "exclusive", Owner: "user 2"})
	require.NoError(t, err)

	// The file inside F is covered, also when asked from user 1's side.
	covering, err := rcA.LocksCovering(ctx, file.Inode().ID)
	require.NoError(t, err)
	require.Len(t, covering, 1)
	assert.Equal(t, lock.Token, covering[0].Token)

	require.NoError(t, rcA.Unlock(ctx, lock.Token))
	covering, err = rcA.LocksCovering(ctx, file.Inode().ID)
	require.NoError(t, err)
	assert.Empty(t, covering)
}

func TestDanglingLinkDegradesToNotFound(t *testing.T) {
	cat, store := newTestBackend(t)
	ctx := context.Background()

	rcA := userContext(cat, store, 1)
	rootA := userRoot(t, rcA)
	f, err := rootA.Mkdir(ctx, "F")
	require.NoError(t, err)

	rootB, err := cat.RootFor(ctx, 2)
	require.NoError(t, err)
	mountShare(t, cat, f.Inode(), "WNVCK", rootB, "F")

	// Drop the target row directly; the share and link inode dangle.
	require.NoError(t, cat.DeleteInodeRow(ctx, f.Inode().ID))

	rcB := userContext(cat, store, 2)
	rootBDir := userRoot(t, rcB)
	_, err = rootBDir.Child(ctx, "F")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQualifiedNameRoundTrip(t *testing.T) {
	n := &catalog.Inode{ID: 42, Name: "report.pdf"}
	q := QualifiedName(n)
	assert.Equal(t, "report.pdf.d42", q)

	name, id := ParseQualifiedName(q)
	assert.Equal(t, "report.pdf", name)
	require.NotNil(t, id)
	assert.Equal(t, uint64(42), *id)

	name, id = ParseQualifiedName("plain.txt")
	assert.Equal(t, "plain.txt", name)
	assert.Nil(t, id)
}
