package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
)

func TestImportSkipsRowsWithoutPhoto(t *testing.T) {
	f := newFixture(t)
	data := []byte(`[
		{"photo_url": "https://cdn.example/1.jpg", "notes": "rim sherd"},
		{"notes": "no photo"},
		{"photo": "https://cdn.example/3.jpg", "lat": 41.9, "lng": "12.5", "interesting": "yes"},
		{"description": "still no photo", "type": "Stone"},
		{"photourl": "https://cdn.example/5.jpg", "priority": "HIGH", "reviewed": true}
	]`)

	res, err := f.importer.Import(as(bob), FormatJSON, data)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Rows, 5)
	assert.True(t, res.Rows[1].Skipped)
	assert.Equal(t, "missing photo_url", res.Rows[1].Reason)
	assert.True(t, res.Rows[3].Skipped)

	arts, err := gateway.ListAs[model.Artifact](context.Background(), f.gw, model.EntityArtifact, gateway.Query{Sort: "created_date"})
	require.NoError(t, err)
	require.Len(t, arts, 3)
	assert.Equal(t, "rim sherd", arts[0].UserNotes)
	assert.Equal(t, model.UncategorizedType, arts[0].ArtifactType)
	assert.True(t, arts[1].HasLocation())
	assert.InDelta(t, 12.5, *arts[1].LocationLng, 1e-9)
	assert.True(t, arts[1].IsInteresting)
	assert.Equal(t, model.PriorityHigh, arts[2].Priority)
	assert.True(t, arts[2].AdminReviewed)
	for _, a := range arts {
		assert.NotEmpty(t, a.ArtifactCode)
		assert.Equal(t, bob, a.CreatedBy)
	}
}

func TestImportCSV(t *testing.T) {
	f := newFixture(t)
	data := []byte("Artifact Code,Photo URL,User Notes,Created By,Location Lat,Location Lng\n" +
		"ART-1,https://cdn.example/1.jpg,\"pin, bronze \"\"fibula\"\"\",someone@else.org,1.5,2.5\n" +
		"\n" +
		"ART-2,https://cdn.example/2.jpg,,,,\n")

	res, err := f.importer.Import(as(ann), FormatCSV, data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Skipped)

	arts, err := gateway.ListAs[model.Artifact](context.Background(), f.gw, model.EntityArtifact, gateway.Query{Sort: "artifact_code"})
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, "ART-1", arts[0].ArtifactCode)
	assert.Equal(t, `pin, bronze "fibula"`, arts[0].UserNotes)
	assert.Equal(t, ann, arts[0].CreatedBy)
	assert.False(t, arts[1].HasLocation())
}

func TestImportRejectsUnknownAndMalformedFields(t *testing.T) {
	f := newFixture(t)
	data := []byte(`[
		{"photo_url": "https://cdn.example/1.jpg", "colour": "red"},
		{"photo_url": "https://cdn.example/2.jpg", "lat": "north"},
		{"photo_url": "https://cdn.example/3.jpg", "priority": "asap"},
		{"photo_url": "https://cdn.example/4.jpg", "lat": 1},
		{"photo_url": "https://cdn.example/5.jpg", "interesting": "maybe"}
	]`)

	res, err := f.importer.Import(as(bob), FormatJSON, data)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 5, res.Skipped)
	assert.Contains(t, res.Rows[0].Reason, "colour")
}

func TestImportSingleObjectAndText(t *testing.T) {
	f := newFixture(t)

	res, err := f.importer.Import(as(bob), FormatJSON, []byte(`{"photo_url": "https://cdn.example/1.jpg"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	res, err = f.importer.Import(as(bob), FormatTXT, []byte("first find\n\n  second find \n"))
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Skipped)

	_, err = f.importer.Import(as(bob), FormatJSON, []byte(`[]`))
	assert.True(t, IsValidation(err))
	_, err = f.importer.Import(as(bob), FormatJSON, []byte(`not json`))
	assert.True(t, IsValidation(err))
}

func TestImportContinuesPastCreateFailure(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.gw.SetWriteHook(func(op gateway.Op, entity, id string) error {
		calls++
		if calls == 2 {
			return assert.AnError
		}
		return nil
	})

	data := []byte(`[{"photo":"https://cdn.example/1.jpg"},{"photo":"https://cdn.example/2.jpg"},{"photo":"https://cdn.example/3.jpg"}]`)
	res, err := f.importer.Import(as(bob), FormatJSON, data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Rows[1].Skipped)
}

func TestParseImportFormat(t *testing.T) {
	for in, want := range map[string]ImportFormat{".CSV": FormatCSV, "json": FormatJSON, "text": FormatTXT} {
		got, ok := ParseImportFormat(in)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := ParseImportFormat("xlsx")
	assert.False(t, ok)
}
