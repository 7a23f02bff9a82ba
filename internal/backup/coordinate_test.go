package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Coordinate
		wantErr bool
	}{
		{
			name:    "plain marker",
			content: "mysql-bin.000042 1024",
			want:    Coordinate{File: "mysql-bin.000042", Position: 1024},
		},
		{
			name:    "extra whitespace",
			content: "  mysql-bin.000042 \t 1024\n",
			want:    Coordinate{File: "mysql-bin.000042", Position: 1024},
		},
		{
			name:    "idx suffix stripped",
			content: "mysql-bin.000042.idx 1024",
			want:    Coordinate{File: "mysql-bin.000042", Position: 1024},
		},
		{
			name:    "index suffix stripped",
			content: "mysql-bin.000042.index 1024",
			want:    Coordinate{File: "mysql-bin.000042", Position: 1024},
		},
		{
			name:    "missing offset",
			content: "mysql-bin.000042",
			wantErr: true,
		},
		{
			name:    "too many fields",
			content: "mysql-bin.000042 1024 extra",
			wantErr: true,
		},
		{
			name:    "non-numeric offset",
			content: "mysql-bin.000042 abc",
			wantErr: true,
		},
		{
			name:    "empty content",
			content: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCoordinate(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoordinateString_RoundTrip(t *testing.T) {
	coord := Coordinate{File: "mysql-bin.000007", Position: 512}
	parsed, err := ParseCoordinate(coord.String())
	require.NoError(t, err)
	assert.Equal(t, coord, parsed)
}

func TestStripIndexSuffix(t *testing.T) {
	assert.Equal(t, "mysql-bin.000001", StripIndexSuffix("mysql-bin.000001.idx"))
	assert.Equal(t, "mysql-bin.000001", StripIndexSuffix("mysql-bin.000001.index"))
	assert.Equal(t, "mysql-bin.000001", StripIndexSuffix("mysql-bin.000001"))
}

func TestSegmentSequence(t *testing.T) {
	t.Run("valid names", func(t *testing.T) {
		seq, err := SegmentSequence("mysql-bin.000007")
		require.NoError(t, err)
		assert.Equal(t, 7, seq)

		seq, err = SegmentSequence("mariadb-bin.001000")
		require.NoError(t, err)
		assert.Equal(t, 1000, seq)
	})

	t.Run("sequence rollover to wider field", func(t *testing.T) {
		seq, err := SegmentSequence("mysql-bin.1000000")
		require.NoError(t, err)
		assert.Equal(t, 1000000, seq)
	})

	t.Run("malformed names", func(t *testing.T) {
		_, err := SegmentSequence("mysql-bin")
		assert.Error(t, err)

		_, err = SegmentSequence("mysql-bin.notanumber")
		assert.Error(t, err)

		_, err = SegmentSequence(".000001")
		assert.Error(t, err)
	})
}

func TestSegmentBasename(t *testing.T) {
	base, err := SegmentBasename("mysql-bin.000042")
	require.NoError(t, err)
	assert.Equal(t, "mysql-bin", base)
}

func TestCoordinateCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Coordinate
		want int
	}{
		{
			name: "same segment earlier offset",
			a:    Coordinate{File: "mysql-bin.000005", Position: 100},
			b:    Coordinate{File: "mysql-bin.000005", Position: 200},
			want: -1,
		},
		{
			name: "same segment later offset",
			a:    Coordinate{File: "mysql-bin.000005", Position: 300},
			b:    Coordinate{File: "mysql-bin.000005", Position: 200},
			want: 1,
		},
		{
			name: "equal",
			a:    Coordinate{File: "mysql-bin.000005", Position: 100},
			b:    Coordinate{File: "mysql-bin.000005", Position: 100},
			want: 0,
		},
		{
			name: "earlier segment wins regardless of offset",
			a:    Coordinate{File: "mysql-bin.000005", Position: 999999},
			b:    Coordinate{File: "mysql-bin.000006", Position: 4},
			want: -1,
		},
		{
			name: "numeric not lexicographic ordering",
			a:    Coordinate{File: "mysql-bin.999999", Position: 0},
			b:    Coordinate{File: "mysql-bin.1000000", Position: 0},
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Compare(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("different basenames rejected", func(t *testing.T) {
		a := Coordinate{File: "mysql-bin.000005", Position: 0}
		b := Coordinate{File: "mariadb-bin.000006", Position: 0}
		_, err := a.Compare(b)
		assert.Error(t, err)
	})
}

func TestCoordinateBefore(t *testing.T) {
	a := Coordinate{File: "mysql-bin.000005", Position: 1024}
	b := Coordinate{File: "mysql-bin.000007", Position: 512}

	before, err := a.Before(b)
	require.NoError(t, err)
	assert.True(t, before)

	before, err = b.Before(a)
	require.NoError(t, err)
	assert.False(t, before)

	before, err = a.Before(a)
	require.NoError(t, err)
	assert.False(t, before)
}

func TestCoordinateIsZero(t *testing.T) {
	assert.True(t, Coordinate{}.IsZero())
	assert.False(t, Coordinate{File: "mysql-bin.000001"}.IsZero())
}
