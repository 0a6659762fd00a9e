package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{
			name: "path and size",
			line: `closing file="/data/a.log" written=2048`,
			want: Event{Path: "/data/a.log", Size: 2048},
			ok:   true,
		},
		{
			name: "embedded in log prefix",
			line: `2025-01-02T10:00:00Z INFO writer: closing file="/data/run 1/b.h5" written=17 elapsed=3s`,
			want: Event{Path: "/data/run 1/b.h5", Size: 17},
			ok:   true,
		},
		{
			name: "size missing",
			line: `closing file="/data/c.log"`,
			want: Event{Path: "/data/c.log", Size: SizeUnknown},
			ok:   true,
		},
		{
			name: "no pattern",
			line: `opening file="/data/a.log"`,
		},
		{
			name: "truncated before closing quote",
			line: `closing file="/data/a.l`,
		},
		{
			name: "empty",
			line: ``,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.line)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	f := Filter{MinSize: 1024}
	assert.True(t, f.Allow(Event{Path: "/a", Size: 1024}))
	assert.False(t, f.Allow(Event{Path: "/a", Size: 1023}))
	assert.True(t, f.Allow(Event{Path: "/a", Size: SizeUnknown}))

	disabled := Filter{}
	assert.True(t, disabled.Allow(Event{Path: "/a", Size: 0}))
}
