package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogQueries(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out LogQueries
		err bool
	}{
		{"", LogQueries{}, false},
		{"none", LogQueries{}, false},
		{" off ", LogQueries{}, false},
		{"all", LogQueries{Enabled: true}, false},
		{">250ms", LogQueries{Enabled: true, SlowerThan: 250 * time.Millisecond}, false},
		{">soon", LogQueries{}, true},
		{"some", LogQueries{}, true},
		{">", LogQueries{}, true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			a := assert.New(t)

			var l LogQueries
			err := l.UnmarshalText([]byte(tc.in))
			if tc.err {
				a.Error(err)
				return
			}

			a.NoError(err)
			a.Equal(tc.out, l)

			d, err := l.MarshalText()
			a.NoError(err)

			var again LogQueries
			a.NoError(again.UnmarshalText(d))
			a.Equal(l, again)
		})
	}
}

func TestLevelList(t *testing.T) {
	a := assert.New(t)

	var l LevelList
	a.NoError(l.UnmarshalText([]byte("error, warning,,panic")))
	a.Equal(LevelList{logrus.ErrorLevel, logrus.WarnLevel, logrus.PanicLevel}, l)

	d, err := l.MarshalText()
	a.NoError(err)
	a.Equal("error,warning,panic", string(d))

	a.NoError(l.UnmarshalText([]byte("-")))
	a.Empty(l)

	d, err = l.MarshalText()
	a.NoError(err)
	a.Equal("-", string(d))

	a.Error(l.UnmarshalText([]byte("loud")))
}

func TestStringList(t *testing.T) {
	a := assert.New(t)

	var l StringList
	a.NoError(l.UnmarshalText([]byte(" @a, @b ,,@c")))
	a.Equal(StringList{"@a", "@b", "@c"}, l)

	d, err := l.MarshalText()
	a.NoError(err)
	a.Equal("@a,@b,@c", string(d))
}
