package object

import (
	"errors"
	"fmt"
)

// referencedIDs returns the outgoing graph edges of a decoded object:
// commit → tree + parents, tree → entry targets, tag → target. Blobs
// hold no references.
func referencedIDs(t Type, body []byte) ([]ID, error) {
	switch t {
	case TypeBlob:
		return nil, nil
	case TypeTag:
		tag, err := decodeTag(body)
		if err != nil {
			return nil, err
		}
		return []ID{tag.Target}, nil
	case TypeCommit:
		commit, err := decodeCommit(body)
		if err != nil {
			return nil, err
		}
		refs := make([]ID, 0, 1+len(commit.Parents))
		refs = append(refs, commit.Tree)
		refs = append(refs, commit.Parents...)
		return refs, nil
	case TypeTree:
		tree, err := decodeTree(body)
		if err != nil {
			return nil, err
		}
		refs := make([]ID, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			// Gitlink entries point outside this store.
			if e.Mode == ModeGitlink {
				continue
			}
			refs = append(refs, e.Target)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// ReachableFrom returns every object transitively referenced from roots.
// Roots absent from the store are ignored, since clients may reference
// history the server no longer holds. The walk is iterative with an
// explicit stack; depth is bounded by history length, not stack size.
func (s *Store) ReachableFrom(roots []ID) (map[ID]struct{}, error) {
	out := make(map[ID]struct{}, len(roots))
	stack := make([]ID, 0, len(roots))
	stack = append(stack, roots...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsZero() {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}

		t, body, err := s.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reachable set read %s: %w", id, err)
		}
		out[id] = struct{}{}

		refs, err := referencedIDs(t, body)
		if err != nil {
			return nil, fmt.Errorf("reachable set parse %s (%s): %w", id, t, err)
		}
		stack = append(stack, refs...)
	}

	return out, nil
}

// Closure returns the ids of all objects reachable from wants but not
// from haves, in deterministic discovery order: the minimal transfer
// set for a fetch. A want absent from the store is an error; absent
// haves contribute nothing. An object reachable from both sides is
// excluded; haves dominate. The wants walk stops descending as soon
// as it reaches anything in the haves closure.
func (s *Store) Closure(wants, haves []ID) ([]ID, error) {
	for _, id := range wants {
		if !s.Contains(id) {
			return nil, fmt.Errorf("want %s: %w", id, ErrNotFound)
		}
	}

	exclude, err := s.ReachableFrom(haves)
	if err != nil {
		return nil, err
	}

	visited := make(map[ID]struct{}, len(wants))
	var out []ID
	stack := make([]ID, 0, len(wants))
	stack = append(stack, wants...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsZero() {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		if _, ok := exclude[id]; ok {
			continue
		}

		t, body, err := s.Get(id)
		if err != nil {
			return nil, fmt.Errorf("closure read %s: %w", id, err)
		}
		out = append(out, id)

		refs, err := referencedIDs(t, body)
		if err != nil {
			return nil, fmt.Errorf("closure parse %s (%s): %w", id, t, err)
		}
		stack = append(stack, refs...)
	}

	return out, nil
}

// AncestorWalker lazily yields commit ids reachable from a start commit
// by parent edges, excluding anything reachable from the stop set. Not
// restartable: once a frontier is consumed it must be re-walked.
type AncestorWalker struct {
	store   *Store
	stack   []ID
	visited map[ID]struct{}
}

// NewAncestorWalker prepares a walk from start. The stop set's own
// ancestor closure is computed up front so each Next call is a bounded
// amount of work.
func NewAncestorWalker(s *Store, start ID, stop []ID) (*AncestorWalker, error) {
	visited := make(map[ID]struct{})

	frontier := append([]ID(nil), stop...)
	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		commit, err := s.GetCommit(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		frontier = append(frontier, commit.Parents...)
	}

	return &AncestorWalker{
		store:   s,
		stack:   []ID{start},
		visited: visited,
	}, nil
}

// Next returns the next ancestor commit id. The second return is false
// once the walk is exhausted.
func (w *AncestorWalker) Next() (ID, bool, error) {
	for len(w.stack) > 0 {
		id := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		if _, ok := w.visited[id]; ok {
			continue
		}
		w.visited[id] = struct{}{}

		commit, err := w.store.GetCommit(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return ZeroID, false, err
		}
		w.stack = append(w.stack, commit.Parents...)
		return id, true, nil
	}
	return ZeroID, false, nil
}
