package savedstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetList(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"c1", "c2", "c3"} {
		cmp := model.Comparison{ID: id, ArtifactCodes: []string{"ART-1", "ART-2"}, Content: "analysis " + id}
		require.NoError(t, s.Put("bob@dig.org", KindComparison, id, base.Add(time.Duration(i)*time.Hour), cmp))
	}
	require.NoError(t, s.Put("bob@dig.org", KindReport, "r1", base, model.Report{ID: "r1"}))
	require.NoError(t, s.Put("ann@dig.org", KindComparison, "c9", base, model.Comparison{ID: "c9"}))

	list, err := s.List("bob@dig.org", KindComparison)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c3", list[0].ID)
	assert.Equal(t, "c1", list[2].ID)
	assert.Equal(t, KindComparison, list[0].Kind)

	e, err := s.Get("bob@dig.org", KindComparison, "c2")
	require.NoError(t, err)
	var cmp model.Comparison
	require.NoError(t, json.Unmarshal(e.Data, &cmp))
	assert.Equal(t, "analysis c2", cmp.Content)
	assert.True(t, e.CreatedAt.Equal(base.Add(time.Hour)))

	_, err = s.Get("ann@dig.org", KindComparison, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Put("bob@dig.org", KindReport, "r1", time.Now(), map[string]string{"content": "x"}))

	require.NoError(t, s.Delete("bob@dig.org", KindReport, "r1"))
	assert.ErrorIs(t, s.Delete("bob@dig.org", KindReport, "r1"), ErrNotFound)

	list, err := s.List("bob@dig.org", KindReport)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRejectsUnknownVersion(t *testing.T) {
	s := openStore(t)
	k := key("bob@dig.org", KindReport, "old")
	require.NoError(t, s.db.Set(k, []byte(`{"v":2,"kind":"report","data":{}}`), pebble.Sync))

	_, err := s.Get("bob@dig.org", KindReport, "old")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	list, err := s.List("bob@dig.org", KindReport)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "saved/v1/bob@dig.org/comparison/c1", string(key("bob@dig.org", KindComparison, "c1")))
	assert.Equal(t, "saved/v1/a%2Fb/report/x%2Fy", string(key("a/b", KindReport, "x/y")))
	assert.Error(t, openStore(t).Put("bob", Kind("chart"), "x", time.Now(), nil))
}
