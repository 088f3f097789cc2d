package printer

import (
	"context"
	"strings"
)

// Candidate is one device offered to the operator
type Candidate struct {
	ID        string // address, port path or bus:address
	Name      string
	Detail    string
	Preferred bool // previously used or granted
}

// Chooser asks the operator to pick a device. It returns the index of the
// chosen candidate, or ErrCancelled when the prompt was dismissed.
type Chooser interface {
	Choose(ctx context.Context, title string, candidates []Candidate) (int, error)
}

// ChooserFunc adapts a function to the Chooser interface
type ChooserFunc func(ctx context.Context, title string, candidates []Candidate) (int, error)

func (f ChooserFunc) Choose(ctx context.Context, title string, candidates []Candidate) (int, error) {
	return f(ctx, title, candidates)
}

// PreferredChooser picks without asking: the candidate whose ID equals
// Match, else the first preferred candidate, else the only candidate.
// Anything else counts as a dismissed prompt.
type PreferredChooser struct {
	Match string
}

func (c PreferredChooser) Choose(_ context.Context, _ string, candidates []Candidate) (int, error) {
	if c.Match != "" {
		for i, cand := range candidates {
			if strings.EqualFold(cand.ID, c.Match) {
				return i, nil
			}
		}
		return -1, ErrCancelled
	}

	for i, cand := range candidates {
		if cand.Preferred {
			return i, nil
		}
	}

	if len(candidates) == 1 {
		return 0, nil
	}
	return -1, ErrCancelled
}
