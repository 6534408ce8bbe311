package mscab

// Append links next onto the end of the chain containing cab, merging a
// split folder across the join if one exists (spec §4.9).
func (d *Decompressor) Append(cab, next *Cabinet) error {
	return merge(cab, next)
}

// Prepend links prev onto the front of the chain containing cab, merging a
// split folder across the join if one exists (spec §4.9).
func (d *Decompressor) Prepend(cab, prev *Cabinet) error {
	return merge(prev, cab)
}

// merge joins L (the earlier cabinet) to R (the later one). Both Append and
// Prepend reduce to this single operation with L and R assigned according to
// which direction the new cabinet is being attached.
func merge(l, r *Cabinet) error {
	if l == r {
		return newErr(ErrArgs, "cannot merge a cabinet with itself")
	}
	if l.Next != nil {
		return newErr(ErrArgs, "left cabinet already has a next neighbour")
	}
	if r.Prev != nil {
		return newErr(ErrArgs, "right cabinet already has a previous neighbour")
	}
	for cur := l; cur != nil; cur = cur.Prev {
		if cur == r {
			return newErr(ErrArgs, "merging would create a cycle")
		}
	}
	for cur := r; cur != nil; cur = cur.Next {
		if cur == l {
			return newErr(ErrArgs, "merging would create a cycle")
		}
	}

	if l.SetID != r.SetID {
		l.sys.Message(nil, "warning: merging cabinets from different sets (%d vs %d)", l.SetID, r.SetID)
	}
	if r.SetIndex <= l.SetIndex {
		l.sys.Message(nil, "warning: merged cabinet set indices are not increasing (%d then %d)", l.SetIndex, r.SetIndex)
	}

	if len(l.Folders) == 0 || len(r.Folders) == 0 {
		return newErr(ErrDataFormat, "cannot merge a cabinet with no folders")
	}
	lf := l.Folders[len(l.Folders)-1]
	rf := r.Folders[0]

	switch {
	case lf.mergeNext == nil && rf.mergePrev == nil:
		// Distinct folders; nothing to splice.
	case lf.mergeNext != nil && rf.mergePrev != nil:
		if lf.Method() != rf.Method() || lf.WindowBits() != rf.WindowBits() {
			return newErr(ErrDataFormat, "split folder changes compression method/window across cabinets")
		}
		if lf.mergeNext.FolderOffset != rf.mergePrev.FolderOffset {
			return newErr(ErrDataFormat, "split folder continuation offsets disagree across cabinets")
		}
		lf.Segments = append(lf.Segments, rf.Segments...)
		if rf.mergeNext == rf.mergePrev {
			// rf's own anchor pointed at itself; keep lf's existing one.
		} else {
			lf.mergeNext = rf.mergeNext
		}
		spliceOutFolder(r, rf)
	default:
		return newErr(ErrDataFormat, "only one side of the join has a continuation anchor")
	}

	l.Next = r
	r.Prev = l

	// l and r each already carry the complete, deduplicated aggregate for
	// their own pre-existing chain (every member of a chain shares the same
	// slice, by this same invariant established on the previous merge).
	// Concatenating l's and r's copies exactly once each joins the two
	// chains without re-summing any member more than once; re-deriving the
	// aggregate by walking every member of allCabs and concatenating all of
	// their (already-aggregated) lists would multiply entries on a 3rd-plus
	// cabinet merge.
	allFolders := append(append([]*Folder{}, l.Folders...), r.Folders...)
	allFiles := append(append([]*FileEntry{}, l.Files...), r.Files...)
	for _, cab := range chainMembers(l) {
		cab.Folders = allFolders
		cab.Files = allFiles
	}
	return nil
}

// spliceOutFolder removes rf (now merged into its predecessor) from r's
// folder list and drops every file record that pointed at it.
func spliceOutFolder(r *Cabinet, rf *Folder) {
	folders := make([]*Folder, 0, len(r.Folders)-1)
	for _, f := range r.Folders {
		if f != rf {
			folders = append(folders, f)
		}
	}
	r.Folders = folders

	files := make([]*FileEntry, 0, len(r.Files))
	for _, fe := range r.Files {
		if fe.Folder != rf {
			files = append(files, fe)
		}
	}
	r.Files = files
}

func chainMembers(any *Cabinet) []*Cabinet {
	start := any
	for start.Prev != nil {
		start = start.Prev
	}
	var out []*Cabinet
	for cur := start; cur != nil; cur = cur.Next {
		out = append(out, cur)
	}
	return out
}
