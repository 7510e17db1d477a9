package pipeline

import (
	"errors"
	"os"
	"slices"

	"finvoice-go/internal/logger"
)

type artifact struct {
	Path     string
	Retained bool
}

// Artifacts is the ordered set of files one run created. Files stay
// transient until promoted; only transient files are ever deleted.
type Artifacts struct {
	items []artifact
}

func (a *Artifacts) Add(paths ...string) {
	for _, p := range paths {
		if p == "" || slices.ContainsFunc(a.items, func(it artifact) bool { return it.Path == p }) {
			continue
		}
		a.items = append(a.items, artifact{Path: p})
	}
}

// Promote marks path as permanent, e.g. the enhanced audio once a job
// references it.
func (a *Artifacts) Promote(path string) {
	for i := range a.items {
		if a.items[i].Path == path {
			a.items[i].Retained = true
		}
	}
}

// Transient lists the paths that cleanup deletes.
func (a *Artifacts) Transient() []string {
	var out []string
	for _, it := range a.items {
		if !it.Retained {
			out = append(out, it.Path)
		}
	}
	return out
}

// RemoveTransient deletes every non-retained file, newest first.
func (a *Artifacts) RemoveTransient(log *logger.Logger) {
	paths := a.Transient()
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.Remove(paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", paths[i]).Warn("could not remove temporary file")
		}
	}
	kept := a.items[:0]
	for _, it := range a.items {
		if it.Retained {
			kept = append(kept, it)
		}
	}
	a.items = kept
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
