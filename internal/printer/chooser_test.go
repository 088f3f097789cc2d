package printer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferredChooser(t *testing.T) {
	tests := []struct {
		name       string
		chooser    PreferredChooser
		candidates []Candidate
		want       int
		cancelled  bool
	}{
		{
			name:       "match is case insensitive",
			chooser:    PreferredChooser{Match: "AA:BB"},
			candidates: []Candidate{{ID: "cc:dd"}, {ID: "aa:bb"}},
			want:       1,
		},
		{
			name:       "match not present",
			chooser:    PreferredChooser{Match: "ee:ff"},
			candidates: []Candidate{{ID: "aa:bb"}},
			cancelled:  true,
		},
		{
			name:       "first preferred",
			candidates: []Candidate{{ID: "1"}, {ID: "2", Preferred: true}, {ID: "3", Preferred: true}},
			want:       1,
		},
		{
			name:       "only candidate",
			candidates: []Candidate{{ID: "1"}},
			want:       0,
		},
		{
			name:       "ambiguous",
			candidates: []Candidate{{ID: "1"}, {ID: "2"}},
			cancelled:  true,
		},
		{
			name:      "empty",
			cancelled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.chooser.Choose(context.Background(), "Select", tt.candidates)
			if tt.cancelled {
				assert.ErrorIs(t, err, ErrCancelled)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
