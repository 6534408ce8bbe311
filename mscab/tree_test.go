package mscab

import (
	"bytes"
	"testing"
)

func TestBuildTreeGroupsNestedPaths(t *testing.T) {
	raw := buildStoredCabinet(1, 0, false, false, "", "", []fixtureFile{
		{name: "readme.txt", data: []byte("hi")},
		{name: "docs\\guide.txt", data: []byte("guide")},
		{name: "docs\\images\\logo.png", data: []byte{1, 2, 3}},
	})
	sys := NewMemorySystem(nil, nil)
	cab, err := parseCabinet(bytes.NewReader(raw), "t.cab", 0, sys, parseOptions{})
	if err != nil {
		t.Fatalf("parseCabinet: %v", err)
	}

	root := BuildTree(cab)
	if root.Type != "directory" {
		t.Fatalf("root type = %q, want directory", root.Type)
	}
	if len(root.Contents) != 2 {
		t.Fatalf("root contents = %d, want 2 (readme.txt, docs)", len(root.Contents))
	}

	var docs *TreeNode
	for _, n := range root.Contents {
		if n.Name == "docs" {
			docs = n
		}
	}
	if docs == nil || docs.Type != "directory" {
		t.Fatalf("expected a docs directory node")
	}
	if len(docs.Contents) != 2 {
		t.Fatalf("docs contents = %d, want 2 (guide.txt, images)", len(docs.Contents))
	}

	var found bool
	for _, n := range docs.Contents {
		if n.Name == "images" && n.Type == "directory" {
			found = true
			if len(n.Contents) != 1 || n.Contents[0].Name != "logo.png" {
				t.Fatalf("images contents = %+v", n.Contents)
			}
		}
	}
	if !found {
		t.Fatalf("expected an images directory under docs")
	}
}

func TestSplitCabPathNormalisesSeparators(t *testing.T) {
	got := splitCabPath("a\\b/c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
