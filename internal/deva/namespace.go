// Package deva implements the metadata service container: a
// hierarchical namespace, per-file chunk layouts, and the storage-node
// registry, all mutated exclusively through replicated ops.
package deva

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"pain/internal/base"
	"pain/internal/status"
	"pain/internal/store"
)

// FileType distinguishes namespace entries.
type FileType uint8

const (
	FileTypeNone FileType = iota
	FileTypeFile
	FileTypeDirectory
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	}
	return "none"
}

// RootObjectId is the fixed inode id of "/".
var RootObjectId = base.MustParseObjectId("00000000-00000000-0000-0000-0000-000000000001")

// Inode is a namespace node.
type Inode struct {
	ID   base.ObjectId `msgpack:"id"`
	Type FileType      `msgpack:"type"`
}

// DirEntry links a child into a directory. (Parent, Name) is unique.
type DirEntry struct {
	Parent base.ObjectId `msgpack:"parent"`
	Name   string        `msgpack:"name"`
	Child  base.ObjectId `msgpack:"child"`
	Type   FileType      `msgpack:"type"`
}

const (
	inodeKeyspace  = "inode"
	dentryKeyspace = "dentry"
)

func inodeKey(id base.ObjectId) string {
	return inodeKeyspace + "/" + id.String()
}

func dentryKey(parent base.ObjectId, name string) string {
	return dentryKeyspace + "/" + parent.String() + "/" + name
}

// Namespace is the directory tree, held in memory and written through
// to the Store. Every non-root inode is reachable from the root via
// exactly one (parent, name) chain.
type Namespace struct {
	st       store.Store
	inodes   map[base.ObjectId]Inode
	children map[base.ObjectId]map[string]DirEntry
}

func NewNamespace(st store.Store) *Namespace {
	ns := &Namespace{
		st:       st,
		inodes:   make(map[base.ObjectId]Inode),
		children: make(map[base.ObjectId]map[string]DirEntry),
	}
	ns.resetRoot()
	return ns
}

func (ns *Namespace) resetRoot() {
	ns.inodes[RootObjectId] = Inode{ID: RootObjectId, Type: FileTypeDirectory}
}

func (ns *Namespace) Root() base.ObjectId { return RootObjectId }

// Load rebuilds the in-memory tree from the store.
func (ns *Namespace) Load() error {
	ns.inodes = make(map[base.ObjectId]Inode)
	ns.children = make(map[base.ObjectId]map[string]DirEntry)
	ns.resetRoot()

	err := ns.st.ForEach(func(key string) error {
		switch {
		case strings.HasPrefix(key, inodeKeyspace+"/"):
			data, err := ns.st.Get(key)
			if err != nil {
				return err
			}
			var inode Inode
			if err := msgpack.Unmarshal(data, &inode); err != nil {
				return fmt.Errorf("decode inode %q: %w", key, err)
			}
			ns.inodes[inode.ID] = inode
		case strings.HasPrefix(key, dentryKeyspace+"/"):
			data, err := ns.st.Get(key)
			if err != nil {
				return err
			}
			var entry DirEntry
			if err := msgpack.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("decode dentry %q: %w", key, err)
			}
			ns.linkInMemory(entry)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load namespace: %w", err)
	}
	return nil
}

func (ns *Namespace) linkInMemory(entry DirEntry) {
	siblings, ok := ns.children[entry.Parent]
	if !ok {
		siblings = make(map[string]DirEntry)
		ns.children[entry.Parent] = siblings
	}
	siblings[entry.Name] = entry
}

// Create links a new inode under parent. Duplicate (parent, name) is
// AlreadyExists; a missing parent is NotFound; a non-directory parent
// is FailedPrecondition.
func (ns *Namespace) Create(parent base.ObjectId, name string, typ FileType, inode base.ObjectId) error {
	if name == "" || strings.Contains(name, "/") {
		return status.Errorf(status.InvalidArgument, "invalid entry name %q", name)
	}
	parentInode, ok := ns.inodes[parent]
	if !ok {
		return status.Errorf(status.NotFound, "parent %s not found", parent)
	}
	if parentInode.Type != FileTypeDirectory {
		return status.Errorf(status.FailedPrecondition, "parent %s is not a directory", parent)
	}
	if _, exists := ns.children[parent][name]; exists {
		return status.Errorf(status.AlreadyExists, "%q already exists", name)
	}

	entry := DirEntry{Parent: parent, Name: name, Child: inode, Type: typ}
	inodeRec, err := msgpack.Marshal(&Inode{ID: inode, Type: typ})
	if err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	entryRec, err := msgpack.Marshal(&entry)
	if err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	if err := ns.st.Put(inodeKey(inode), inodeRec); err != nil {
		return status.Wrap(status.Internal, err, "")
	}
	if err := ns.st.Put(dentryKey(parent, name), entryRec); err != nil {
		return status.Wrap(status.Internal, err, "")
	}

	ns.inodes[inode] = Inode{ID: inode, Type: typ}
	ns.linkInMemory(entry)
	return nil
}

// Remove unlinks (parent, name) and deletes its inode. A non-empty
// directory is FailedPrecondition.
func (ns *Namespace) Remove(parent base.ObjectId, name string) error {
	entry, ok := ns.children[parent][name]
	if !ok {
		return status.Errorf(status.NotFound, "%q not found", name)
	}
	if entry.Type == FileTypeDirectory && len(ns.children[entry.Child]) > 0 {
		return status.Errorf(status.FailedPrecondition, "directory %q is not empty", name)
	}

	if err := ns.st.Remove(dentryKey(parent, name)); err != nil && err != store.ErrKeyNotFound {
		return status.Wrap(status.Internal, err, "")
	}
	if err := ns.st.Remove(inodeKey(entry.Child)); err != nil && err != store.ErrKeyNotFound {
		return status.Wrap(status.Internal, err, "")
	}

	delete(ns.children[parent], name)
	delete(ns.children, entry.Child)
	delete(ns.inodes, entry.Child)
	return nil
}

// List returns the entries of parent sorted by name.
func (ns *Namespace) List(parent base.ObjectId) []DirEntry {
	siblings := ns.children[parent]
	out := make([]DirEntry, 0, len(siblings))
	for _, entry := range siblings {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup resolves an absolute path to its inode.
func (ns *Namespace) Lookup(path string) (base.ObjectId, FileType, error) {
	components, err := splitPath(path)
	if err != nil {
		return base.ObjectId{}, FileTypeNone, err
	}
	current := RootObjectId
	typ := FileTypeDirectory
	for _, name := range components {
		entry, ok := ns.children[current][name]
		if !ok {
			return base.ObjectId{}, FileTypeNone, status.Errorf(status.NotFound, "%q not found in %s", name, path)
		}
		current = entry.Child
		typ = entry.Type
	}
	return current, typ, nil
}

// LookupParent resolves the directory holding the last path component
// and returns that component's name.
func (ns *Namespace) LookupParent(path string) (base.ObjectId, string, error) {
	components, err := splitPath(path)
	if err != nil {
		return base.ObjectId{}, "", err
	}
	if len(components) == 0 {
		return base.ObjectId{}, "", status.Errorf(status.InvalidArgument, "path %q has no final component", path)
	}
	parentPath := "/" + strings.Join(components[:len(components)-1], "/")
	parent, typ, err := ns.Lookup(parentPath)
	if err != nil {
		return base.ObjectId{}, "", err
	}
	if typ != FileTypeDirectory {
		return base.ObjectId{}, "", status.Errorf(status.FailedPrecondition, "%q is not a directory", parentPath)
	}
	return parent, components[len(components)-1], nil
}

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, status.Errorf(status.InvalidArgument, "path %q is not absolute", path)
	}
	var components []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			return nil, status.Errorf(status.InvalidArgument, "path %q escapes upward", path)
		default:
			components = append(components, part)
		}
	}
	return components, nil
}

// snapshotInodes and snapshotDentries export state in deterministic
// order for the container image.
func (ns *Namespace) snapshotInodes() []Inode {
	out := make([]Inode, 0, len(ns.inodes))
	for _, inode := range ns.inodes {
		if inode.ID == RootObjectId {
			continue
		}
		out = append(out, inode)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func (ns *Namespace) snapshotDentries() []DirEntry {
	var out []DirEntry
	for _, siblings := range ns.children {
		for _, entry := range siblings {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Parent.Compare(out[j].Parent); c != 0 {
			return c < 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// restore replaces the tree with the given records, rewriting the
// store keyspaces.
func (ns *Namespace) restore(inodes []Inode, dentries []DirEntry) error {
	for id := range ns.inodes {
		if id == RootObjectId {
			continue
		}
		_ = ns.st.Remove(inodeKey(id))
	}
	for _, siblings := range ns.children {
		for _, entry := range siblings {
			_ = ns.st.Remove(dentryKey(entry.Parent, entry.Name))
		}
	}

	ns.inodes = make(map[base.ObjectId]Inode, len(inodes)+1)
	ns.children = make(map[base.ObjectId]map[string]DirEntry)
	ns.resetRoot()

	for _, inode := range inodes {
		rec, err := msgpack.Marshal(&inode)
		if err != nil {
			return err
		}
		if err := ns.st.Put(inodeKey(inode.ID), rec); err != nil {
			return err
		}
		ns.inodes[inode.ID] = inode
	}
	for _, entry := range dentries {
		rec, err := msgpack.Marshal(&entry)
		if err != nil {
			return err
		}
		if err := ns.st.Put(dentryKey(entry.Parent, entry.Name), rec); err != nil {
			return err
		}
		ns.linkInMemory(entry)
	}
	return nil
}
