package model

import (
	"strconv"
	"strings"
)

// RevsLimit caps the ancestry kept per document.
const RevsLimit = 1000

// Revisions is the ancestry of a revision in the _revisions wire format:
// Start is the generation of IDs[0] and IDs are the hashes newest first.
type Revisions struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

// SplitRev splits a <generation>-<hash> revision.
func SplitRev(rev string) (int, string, bool) {
	prefix, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, "", false
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil || gen <= 0 {
		return 0, "", false
	}
	return gen, hash, true
}

// Extend returns the ancestry of rev, a child of the newest revision of r.
// r may be nil for a first revision; an unrelated r is dropped.
func (r *Revisions) Extend(rev string) *Revisions {
	gen, hash, ok := SplitRev(rev)
	if !ok {
		return nil
	}

	ids := []string{hash}
	if r != nil && r.Start == gen-1 {
		ids = append(ids, r.IDs...)
	}
	if len(ids) > RevsLimit {
		ids = ids[:RevsLimit]
	}

	return &Revisions{Start: gen, IDs: ids}
}

// Head returns the newest revision, empty for an empty ancestry.
func (r *Revisions) Head() string {
	if r == nil || len(r.IDs) == 0 {
		return ""
	}
	return strconv.Itoa(r.Start) + "-" + r.IDs[0]
}

// Revs expands the ancestry into full revisions, newest first.
func (r *Revisions) Revs() []string {
	if r == nil {
		return nil
	}
	revs := make([]string, 0, len(r.IDs))
	for i, id := range r.IDs {
		revs = append(revs, strconv.Itoa(r.Start-i)+"-"+id)
	}
	return revs
}

// Contains reports whether rev is in the ancestry.
func (r *Revisions) Contains(rev string) bool {
	gen, hash, ok := SplitRev(rev)
	if !ok || r == nil {
		return false
	}
	i := r.Start - gen
	return i >= 0 && i < len(r.IDs) && r.IDs[i] == hash
}

func (r *Revisions) Clone() *Revisions {
	if r == nil {
		return nil
	}
	return &Revisions{Start: r.Start, IDs: append([]string(nil), r.IDs...)}
}
