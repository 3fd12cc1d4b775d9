package sqlbuilderutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testModel struct {
	ID           string `sql:",table:test_models"`
	ThumbnailURL *string
	LegacyName   string `sql:"old_name"`
	AddedDate    time.Time
	Ignored      string `sql:"-"`
}

func TestMakeTable(t *testing.T) {
	a := assert.New(t)

	tbl, err := MakeTable(testModel{})
	if !a.NoError(err) {
		return
	}

	a.Equal("test_models", tbl.Name())

	for _, tc := range []struct{ in, out string }{
		{"ID", "id"},
		{"ThumbnailURL", "thumbnail_url"},
		{"thumbnailurl", "thumbnail_url"},
		{"thumbnail_url", "thumbnail_url"},
		{"LegacyName", "old_name"},
		{"AddedDate", "added_date"},
		{"NotAField", "NotAField"},
	} {
		a.Equal(tc.out, tbl.ColumnName(tc.in), tc.in)
	}
}

func TestMakeTableColumns(t *testing.T) {
	a := assert.New(t)

	tbl := MustMakeTable(testModel{})

	a.Equal([]string{"id", "thumbnail_url", "old_name", "added_date"}, tbl.Columns())
	a.Len(tbl.Order("-AddedDate", "ID"), 2)
}

func TestMakeTableDuplicateColumn(t *testing.T) {
	a := assert.New(t)

	type clash struct {
		Name     string
		OtherOne string `sql:"name"`
	}

	_, err := MakeTable(clash{})
	a.ErrorContains(err, `column "name" appears more than once`)

	a.Panics(func() { MustMakeTable(clash{}) })
}
