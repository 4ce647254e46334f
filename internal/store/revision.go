package store

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/emrgen/storysync/internal/model"
)

// NextRev derives the revision following prev for the given body.
// Revisions have the form <generation>-<hash>.
func NextRev(prev string, deleted bool, body []byte) string {
	h := md5.New()
	h.Write([]byte(prev))
	if deleted {
		h.Write([]byte{1})
	}
	h.Write(body)
	return strconv.Itoa(RevGeneration(prev)+1) + "-" + hex.EncodeToString(h.Sum(nil))
}

// RevGeneration returns the numeric prefix of a revision, 0 when absent.
func RevGeneration(rev string) int {
	prefix, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return gen
}

// RevWins reports whether candidate beats current under last-writer-wins:
// higher generation first, then the lexically greater hash.
func RevWins(candidate, current string) bool {
	cg, eg := RevGeneration(candidate), RevGeneration(current)
	if cg != eg {
		return cg > eg
	}
	return candidate > current
}

// checkRev validates an interactive write of given against the stored state.
func checkRev(op string, exists, deleted bool, current, given string) error {
	switch {
	case !exists:
		if given != "" {
			return NewError(KindConflict, op, ErrConflict)
		}
	case deleted:
		if given != "" && given != current {
			return NewError(KindConflict, op, ErrConflict)
		}
	case given != current:
		return NewError(KindConflict, op, ErrConflict)
	}
	return nil
}

// acceptReplicated decides whether a replicated revision replaces the stored
// one: descendants of the stored revision always do, unrelated branches by
// last-writer-wins.
func acceptReplicated(exists bool, current string, incoming *model.Document) bool {
	if !exists {
		return true
	}
	if current == incoming.Rev {
		return false
	}
	if incoming.Revisions.Contains(current) {
		return true
	}
	return RevWins(incoming.Rev, current)
}

// nextRevisions returns the ancestry of rev written on top of the stored
// revision current with its known ancestry.
func nextRevisions(current string, stored *model.Revisions, rev string) *model.Revisions {
	if stored.Head() != current {
		stored = (*model.Revisions)(nil).Extend(current)
	}
	return stored.Extend(rev)
}

// replicatedRevisions returns the ancestry of a replicated document, falling
// back to the bare revision when the sender did not provide a matching one.
func replicatedRevisions(doc *model.Document) *model.Revisions {
	if doc.Revisions.Head() == doc.Rev {
		return doc.Revisions.Clone()
	}
	return (*model.Revisions)(nil).Extend(doc.Rev)
}
