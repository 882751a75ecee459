package acceptenc

import "errors"

// ErrNoCandidate is returned by Select when no configured candidate path
// could be opened (spec.md §4.B step 3's DoesNotExist outcome). Callers
// should translate it to their own DoesNotExist error kind.
var ErrNoCandidate = errors.New("acceptenc: no acceptable encoded variant exists")

// ProbeOutcome is what a Prober reports for one candidate path.
type ProbeOutcome struct {
	// Found is true if the candidate path could be opened at all.
	Found bool
	// IsDirectory is only meaningful when Found is true; per spec.md
	// §4.B step 2, a directory candidate is rejected unless its name is
	// "identity", in which case the caller surfaces IsDirectory instead
	// of trying further candidates.
	IsDirectory bool
}

// Prober attempts to open candidatePath for the named encoding. It owns the
// lifetime of whatever handle it acquires: on a non-winning outcome (not
// found, or a non-identity directory) it must close anything it opened
// before returning.
type Prober func(candidateName, candidatePath string) (ProbeOutcome, error)

// Result is the outcome of a successful Select.
type Result struct {
	Name        string
	Path        string
	VaryApplied bool
}

// Select implements spec.md §4.B: it filters mapping's configured encodings
// by the client's Accept-Encoding preferences, orders them by declared
// order, and probes candidates via prober until one is usable.
//
// If mapping's Matcher does not match resolvedPath at all, negotiation is
// skipped entirely (the caller should open resolvedPath directly); Select
// reports this with ok=false, err=nil.
func Select(prefs []Preference, mapping *Mapping, resolvedPath string, prober Prober) (Result, bool, error) {
	if mapping == nil || !mapping.Matcher.MatchString(resolvedPath) {
		return Result{}, false, nil
	}

	candidates := AcceptableCandidates(prefs, mapping)
	for _, c := range candidates {
		encodedPath, ok := mapping.Apply(resolvedPath, c.Name)
		if !ok {
			continue
		}
		outcome, err := prober(c.Name, encodedPath)
		if err != nil {
			return Result{}, false, err
		}
		if !outcome.Found {
			continue
		}
		if outcome.IsDirectory {
			if c.Name == "identity" {
				return Result{Name: c.Name, Path: encodedPath, VaryApplied: true}, true, errIsDirectory
			}
			continue
		}
		return Result{Name: c.Name, Path: encodedPath, VaryApplied: true}, true, nil
	}
	return Result{}, true, ErrNoCandidate
}

// errIsDirectory is a private sentinel Select uses to signal "the winning
// candidate is a directory" back through its single error return, alongside
// a valid Result, without adding a third return value. Callers must check
// for it with errors.Is before treating a non-nil error as failure.
var errIsDirectory = errors.New("acceptenc: candidate is a directory")

// IsDirectoryResult reports whether err, as returned by Select, indicates
// the selected candidate is a directory (identity only).
func IsDirectoryResult(err error) bool {
	return errors.Is(err, errIsDirectory)
}
