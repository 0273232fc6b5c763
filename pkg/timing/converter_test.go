package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brt = time.FixedZone("UTC-3", -3*60*60)

// go test -v --run TestToMillis
func TestToMillis(t *testing.T) {
	c := NewConverter(brt)

	tests := []struct {
		name string
		in   any
		want int64
	}{
		{name: "string", in: "2025-01-01 00:00:00", want: 1735700400000},
		{name: "seconds int", in: 1735700400, want: 1735700400000},
		{name: "seconds int64", in: int64(1735700400), want: 1735700400000},
		{name: "seconds float", in: 1735700400.0, want: 1735700400000},
		{name: "millis", in: int64(1735700400000), want: 1735700400000},
		{name: "millis float", in: 1735700400000.0, want: 1735700400000},
		{name: "datetime", in: time.Date(2025, 1, 1, 0, 0, 0, 0, brt), want: 1735700400000},
		{name: "short seconds", in: 507456000, want: 507456000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ToMillis(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMillisErrors(t *testing.T) {
	c := NewConverter(brt)

	_, err := c.ToMillis("2025-01-01")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "2025-01-01", fe.Input)

	_, err = c.ToMillis("2025/01/01 00:00:00")
	require.ErrorAs(t, err, &fe)

	_, err = c.ToMillis([]byte("2025-01-01 00:00:00"))
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)

	_, err = c.ToDateTime(struct{}{})
	require.ErrorAs(t, err, &ute)
}

func TestToDateTime(t *testing.T) {
	c := NewConverter(brt)
	want := time.Date(1986, 1, 30, 5, 0, 0, 0, brt)

	for _, in := range []any{"1986-01-30 05:00:00", 507456000.0, 507456000, int64(507456000000)} {
		got, err := c.ToDateTime(in)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "input %v: got %v", in, got)
		assert.Equal(t, brt, got.Location())
	}
}

func TestStartOfDay(t *testing.T) {
	c := NewConverter(brt)
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, brt)

	// 02:30 UTC on Jan 2 is still Jan 1 at UTC-3.
	got := c.StartOfDay(time.Date(2025, 1, 2, 2, 30, 0, 0, time.UTC))
	assert.True(t, want.Equal(got), "got %v", got)
	assert.Equal(t, brt, got.Location())

	assert.True(t, want.Equal(c.StartOfDay(want)))
}

func TestRangeList(t *testing.T) {
	start := time.Unix(1735700400, 0)
	end := start.Add(4 * time.Minute)

	got := RangeList(start, end, Res1m)
	assert.Equal(t, []int64{1735700400, 1735700460, 1735700520, 1735700580, 1735700640}, got)

	assert.Empty(t, RangeList(end, start, Res1m))
	assert.Len(t, RangeList(start, start.Add(23*time.Hour), Res1h), 24)
}

func TestResolution(t *testing.T) {
	r, err := ParseResolution("4h")
	require.NoError(t, err)
	assert.Equal(t, Res4h, r)
	assert.Equal(t, int64(14400), r.Seconds())
	assert.Equal(t, 6, r.DefaultMaxLen())

	_, err = ParseResolution("2d")
	assert.Error(t, err)

	assert.True(t, Res1s.ReadsClosedOnly())
	assert.False(t, Res1m.ReadsClosedOnly())

	assert.Equal(t, int64(1735700459999), Res1m.CloseTime(1735700400000))
	assert.True(t, Res1m.IsAligned(1735700400000))
	assert.False(t, Res1m.IsAligned(1735700400001))
	assert.Equal(t, int64(1735700400000), Res1m.Align(1735700431234))

	table := DefaultRetention()
	table[Res1m] = 1
	assert.Equal(t, 60, Res1m.DefaultMaxLen())
}
