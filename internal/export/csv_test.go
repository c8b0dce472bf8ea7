package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geobuffer/internal/geospatial"
)

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, pointsCollection(t)))

	want := "id,severity,speed,reported,fid\n" +
		"1,high,42.5,2024-03-01,900\n" +
		"2,,,,901\n" +
		"3,,,,\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_QuotesAndEmpty(t *testing.T) {
	c := &geospatial.Collection{
		Columns: []string{"name"},
		Features: []geospatial.Feature{
			{Attributes: []geospatial.Attribute{{Name: "name", Value: `Main St, "north"`}}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, c))
	assert.Equal(t, "name\n\"Main St, \"\"north\"\"\"\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, &geospatial.Collection{Columns: []string{"a", "b"}}))
	assert.Equal(t, "a,b\n", buf.String())
}
