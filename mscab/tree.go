package mscab

import (
	"fmt"
	"strings"
)

// TreeNode is one entry in a cabinet's file tree, built by BuildTree for the
// CLI's --tree listing. Unlike a VFS overlay's Inode, a node here carries no
// redirection metadata, only what a cabinet actually records: name, whether
// it's a folder or leaf, and (for leaves) the FileEntry it came from.
type TreeNode struct {
	Type     string      `json:"type"`
	Name     string      `json:"name"`
	Size     uint32      `json:"size,omitempty"`
	Contents []*TreeNode `json:"contents,omitempty"`

	file *FileEntry
}

// BuildTree arranges cab's files (and, after Append/Prepend, those of every
// cabinet merged with it) into a directory tree keyed on the
// backslash-separated paths CFFILE names carry, the same shape cabextract's
// -p/--pipe listing and the Windows Explorer cabinet viewer both present.
//
// After Append/Prepend, cab.Files holds the complete, merged file list for
// cab's whole chain (every member shares the same slice; see merge in
// linker.go), so only cab itself is read here. Cabinets linked by Search
// are not merged and keep their own Files, so for them the tree covers cab
// alone.
func BuildTree(cab *Cabinet) *TreeNode {
	root := &TreeNode{Type: "directory", Name: ""}
	for _, fe := range cab.Files {
		root.place(splitCabPath(fe.Name), fe)
	}
	return root
}

// splitCabPath normalises a CFFILE name's path separator: cabinets store
// Windows paths, so backslash is the separator operators actually see.
func splitCabPath(name string) []string {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *TreeNode) place(path []string, fe *FileEntry) error {
	if len(path) == 0 {
		return fmt.Errorf("mscab: empty file path")
	}
	if r.Type != "directory" {
		return fmt.Errorf("mscab: %q is not a directory", r.Name)
	}
	if len(path) == 1 {
		r.Contents = append(r.Contents, &TreeNode{
			Type: "file",
			Name: path[0],
			Size: fe.UncompressedSize,
			file: fe,
		})
		return nil
	}
	for _, sub := range r.Contents {
		if sub.Type == "directory" && sub.Name == path[0] {
			return sub.place(path[1:], fe)
		}
	}
	child := &TreeNode{Type: "directory", Name: path[0]}
	if err := child.place(path[1:], fe); err != nil {
		return err
	}
	r.Contents = append(r.Contents, child)
	return nil
}

// File returns the FileEntry a leaf node was built from, or nil for a
// directory node.
func (r *TreeNode) File() *FileEntry { return r.file }
