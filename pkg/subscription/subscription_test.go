package subscription

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/filter"
)

func TestParseFull(t *testing.T) {
	sub, err := Parse([]byte(`<subscription>
  <tracker host="tracker.example.org" port="38800"/>
  <predicate>
    <prefix>images/</prefix>
    <pattern>.*\.nc$</pattern>
  </predicate>
</subscription>`))
	require.NoError(t, err)

	require.Len(t, sub.Trackers, 1)
	assert.Equal(t, "tracker.example.org:38800", sub.Trackers[0].Addr())
	require.Len(t, sub.Filters, 2)
	assert.Equal(t, filter.KindPrefix, sub.Filters[0].Kind())
	assert.Equal(t, filter.KindRegex, sub.Filters[1].Kind())
}

func TestParseEverything(t *testing.T) {
	sub, err := Parse([]byte(`<subscription>
  <tracker host="127.0.0.1" port="38800"/>
  <predicate><everything/></predicate>
</subscription>`))
	require.NoError(t, err)

	pred := sub.Predicate()
	assert.True(t, pred.Matches(archivepath.MustNew("any/path.bin")))
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		xml  string
	}{
		{"no tracker", `<subscription><predicate><everything/></predicate></subscription>`},
		{"no predicate", `<subscription><tracker host="h" port="1"/></subscription>`},
		{"empty predicate", `<subscription><tracker host="h" port="1"/><predicate/></subscription>`},
		{"bad port", `<subscription><tracker host="h" port="99999"/><predicate><everything/></predicate></subscription>`},
		{"bad regex", `<subscription><tracker host="h" port="1"/><predicate><pattern>[</pattern></predicate></subscription>`},
		{"not xml", `{"tracker": "h:1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.xml))
			assert.Error(t, err)
		})
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	re, err := filter.NewRegex(`.*\.grib2$`)
	require.NoError(t, err)

	sub := &Subscription{
		Trackers: []TrackerRef{{Host: "127.0.0.1", Port: 38800}},
		Filters:  []filter.Filter{filter.NewPrefix("model/"), re},
	}

	path := filepath.Join(t.TempDir(), "sub.xml")
	require.NoError(t, Write(path, sub))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, sub.Trackers, got.Trackers)
	require.Len(t, got.Filters, 2)
	assert.True(t, sub.Filters[0].Equal(got.Filters[0]))
	assert.True(t, sub.Filters[1].Equal(got.Filters[1]))
}
