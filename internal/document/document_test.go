package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestDecode(t *testing.T) {
	raw := `{"materials":[{"id":1,"name":"Wool"}],"metadata":{"lastSynced":"2025-01-01T00:00:00Z","version":"1.0"}}`

	doc, err := Decode[item]("materials", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T00:00:00Z", doc.Metadata.LastSynced)
	assert.Equal(t, "1.0", doc.Metadata.Version)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, item{ID: 1, Name: "Wool"}, doc.Items[0])
}

func TestDecode_MissingParts(t *testing.T) {
	doc, err := Decode[item]("ideas", []byte(`{"ideas":null}`))
	require.NoError(t, err)
	assert.NotNil(t, doc.Items)
	assert.Empty(t, doc.Items)
	assert.Empty(t, doc.Metadata.LastSynced)

	doc, err = Decode[item]("ideas", []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, doc.Items)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode[item]("projects", []byte(`not json`))
	assert.Error(t, err)

	_, err = Decode[item]("projects", []byte(`{"projects":{"id":1}}`))
	assert.Error(t, err)
}

func TestEncode_PrettyAndKeyed(t *testing.T) {
	doc := &Document[item]{
		Collection: "projects",
		Metadata:   Metadata{LastSynced: "2025-02-02T10:00:00Z", Version: "1.0"},
		Items:      []item{{ID: 1, Name: "Hat"}},
	}

	out, err := doc.Encode()
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "\n  \"metadata\": {\n")
	assert.Contains(t, text, `"projects": [`)
	assert.True(t, strings.HasSuffix(text, "}\n"))

	back, err := Decode[item]("projects", out)
	require.NoError(t, err)
	assert.Equal(t, doc.Items, back.Items)
	assert.Equal(t, doc.Metadata, back.Metadata)
}

func TestEncode_NilItemsAsEmptyArray(t *testing.T) {
	doc := &Document[item]{Collection: "ideas"}
	out, err := doc.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"ideas": []`)
}
