package sqltypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeScanner(t *testing.T) {
	want := time.Date(2024, time.March, 4, 5, 6, 7, 0, time.UTC)

	for _, tc := range []struct {
		name  string
		input interface{}
		err   string
	}{
		{"native", want, ""},
		{"driver format", "2024-03-04 05:06:07+00:00", ""},
		{"bytes", []byte("2024-03-04 05:06:07+00:00"), ""},
		{"iso", "2024-03-04T05:06:07+00:00", ""},
		{"garbage", "yesterday", "could not parse input value"},
		{"offset", "2024-03-04 15:06:07+10:00", ""},
		{"wrong type", 12, "could not scan input type"},
		{"null", nil, "unexpected null"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			var v time.Time
			err := (&TimeScanner{Value: &v}).Scan(tc.input)
			if tc.err != "" {
				a.ErrorContains(err, tc.err)
				return
			}

			a.NoError(err)
			a.Equal(want, v)
		})
	}
}

func TestTimePointerScanner(t *testing.T) {
	a := assert.New(t)

	v := new(time.Time)
	a.NoError((&TimePointerScanner{Value: &v}).Scan(nil))
	a.Nil(v)

	a.NoError((&TimePointerScanner{Value: &v}).Scan("2024-03-04 05:06:07"))
	if a.NotNil(v) {
		a.Equal(2024, v.Year())
	}
}

func TestJSONStringSlice(t *testing.T) {
	a := assert.New(t)

	v, err := JSONStringSlice(nil).Value()
	a.NoError(err)
	a.Equal("[]", v)

	v, err = JSONStringSlice{"a", "b"}.Value()
	a.NoError(err)
	a.Equal(`["a","b"]`, v)

	var s JSONStringSlice
	a.NoError(s.Scan(`["x"]`))
	a.Equal(JSONStringSlice{"x"}, s)

	a.NoError(s.Scan([]byte(`["y","z"]`)))
	a.Equal(JSONStringSlice{"y", "z"}, s)

	a.ErrorContains(s.Scan("not json"), "could not decode")
	a.Equal(JSONStringSlice{"y", "z"}, s, "failed scans leave the value alone")

	a.NoError(s.Scan(nil))
	a.Nil(s)

	a.ErrorContains(s.Scan(1.5), "could not scan input type")
}
