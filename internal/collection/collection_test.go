package collection

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinnamon-msft/tangled/internal/document"
	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/github"
	"github.com/cinnamon-msft/tangled/internal/github/ghfake"
	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/models"
	"github.com/cinnamon-msft/tangled/internal/syncstate"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testSession is both the session view and the token source.
type testSession struct {
	mu    sync.Mutex
	token string
}

func (s *testSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

func (s *testSession) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", perrors.ErrUnauthenticated
	}
	return s.token, nil
}

func (s *testSession) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

type staticFiles map[string][]byte

func (f staticFiles) Fetch(_ context.Context, collection string) ([]byte, error) {
	if b, ok := f[collection]; ok {
		return b, nil
	}
	return nil, perrors.ErrNotFound
}

type harness struct {
	fake      *ghfake.Server
	session   *testSession
	tracker   *syncstate.Tracker
	metrics   *metrics.Metrics
	static    staticFiles
	rejected  atomic.Int32
	materials *Collection[models.Material, *models.Material]
	projects  *Collection[models.Project, *models.Project]
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	h := &harness{
		fake:    ghfake.New("octo", "crafts"),
		session: &testSession{token: token},
		tracker: syncstate.NewTracker(),
		metrics: metrics.New(),
		static:  staticFiles{},
	}
	t.Cleanup(h.fake.Close)
	h.fake.AddToken("good-token", "octocat")

	client, err := github.NewClient(github.Config{BaseURL: h.fake.URL, Owner: "octo", Repo: "crafts"}, h.session, zerolog.Nop())
	require.NoError(t, err)
	client.OnAuthRejected(func(context.Context, string) {
		h.rejected.Add(1)
		h.session.clear()
	})

	opts := func(name string) Options {
		return Options{
			Name:     name,
			DataPath: "data",
			Version:  "1.0",
			Remote:   client,
			Snapshot: h.static,
			Session:  h.session,
			Tracker:  h.tracker,
			Metrics:  h.metrics,
			Logger:   zerolog.Nop(),
		}
	}
	h.materials = New[models.Material](opts("materials"))
	h.materials.now = func() time.Time { return fixedNow }
	h.projects = New[models.Project](opts("projects"))
	h.projects.now = func() time.Time { return fixedNow }
	return h
}

func materialsDoc(lastSynced string, items ...models.Material) []byte {
	doc := document.New[models.Material]("materials")
	doc.Metadata = document.Metadata{LastSynced: lastSynced, Version: "1.0"}
	doc.Items = append(doc.Items, items...)
	b, _ := doc.Encode()
	return b
}

func material(id int, name string) models.Material {
	return models.Material{Base: models.Base{ID: id}, Name: name}
}

func remoteMaterials(t *testing.T, h *harness) *document.Document[models.Material] {
	t.Helper()
	raw, ok := h.fake.File("data/materials.json")
	require.True(t, ok)
	doc, err := document.Decode[models.Material]("materials", raw)
	require.NoError(t, err)
	return doc
}

func TestGetAll_GuestServesStaticOnly(t *testing.T) {
	h := newHarness(t, "")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"))
	h.fake.PutFile("data/materials.json", materialsDoc("2025-03-01T00:00:00Z", material(1, "Wool"), material(2, "Silk")))

	items, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Wool", items[0].Name)

	gets, _ := h.fake.Requests()
	assert.Zero(t, gets, "guests never reach the remote")
	assert.Equal(t, syncstate.StatusIdle, h.tracker.Snapshot().Status)
}

func TestGetAll_RemoteNewerWins(t *testing.T) {
	h := newHarness(t, "good-token")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"))
	h.fake.PutFile("data/materials.json", materialsDoc("2025-03-01T00:00:00Z", material(1, "Wool"), material(2, "Silk")))

	items, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)

	s := h.tracker.Snapshot()
	assert.Equal(t, syncstate.StatusIdle, s.Status)
	require.NotNil(t, s.LastSynced)
	assert.Equal(t, "2025-03-01T00:00:00Z", s.LastSynced.Format(time.RFC3339))
}

func TestGetAll_EqualTimestampsKeepLocal(t *testing.T) {
	h := newHarness(t, "good-token")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"))
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", material(1, "Merino")))

	items, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Wool", items[0].Name)
}

func TestGetAll_MissingRemoteKeepsStatic(t *testing.T) {
	h := newHarness(t, "good-token")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"))

	items, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGetAll_Idempotent(t *testing.T) {
	h := newHarness(t, "good-token")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"), material(3, "Linen"))

	first, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	second, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCreateThenGetByID(t *testing.T) {
	h := newHarness(t, "good-token")

	input := models.Project{Name: "Cabled hat", CraftType: models.CraftKnitting, Status: models.StatusInProgress, PatternName: "Aran"}
	created, err := h.projects.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID, "empty collection starts at 1")

	got, err := h.projects.GetByID(context.Background(), created.ID)
	require.NoError(t, err)

	want := input
	want.ID = 1
	want.CreatedAt = fixedNow
	want.UpdatedAt = fixedNow
	assert.Equal(t, want, got)

	commits := h.fake.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, "Create project: Cabled hat", commits[0].Message)
}

func TestCreate_AssignsMaxPlusOne(t *testing.T) {
	h := newHarness(t, "good-token")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"), material(3, "Linen"))

	created, err := h.materials.Create(context.Background(), models.Material{Name: "Alpaca"})
	require.NoError(t, err)
	assert.Equal(t, 4, created.ID)
}

func TestCreate_RequiresSession(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.materials.Create(context.Background(), models.Material{Name: "Alpaca"})
	assert.ErrorIs(t, err, perrors.ErrUnauthenticated)

	gets, puts := h.fake.Requests()
	assert.Zero(t, gets)
	assert.Zero(t, puts)
}

func TestCreate_ValidatesInput(t *testing.T) {
	h := newHarness(t, "good-token")

	_, err := h.materials.Create(context.Background(), models.Material{Name: " "})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestMaterialsScenario(t *testing.T) {
	h := newHarness(t, "good-token")
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool")))

	created, err := h.materials.Create(context.Background(), models.Material{Name: "Cotton"})
	require.NoError(t, err)
	assert.Equal(t, 2, created.ID)
	assert.Equal(t, "Cotton", created.Name)
	assert.Equal(t, fixedNow, created.CreatedAt)
	assert.Equal(t, fixedNow, created.UpdatedAt)

	doc := remoteMaterials(t, h)
	assert.Len(t, doc.Items, 2)
	assert.Equal(t, "Wool", doc.Items[0].Name)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), doc.Metadata.LastSynced)
	assert.Equal(t, "1.0", doc.Metadata.Version)
}

func TestUpdate_MergesShallowly(t *testing.T) {
	h := newHarness(t, "good-token")
	created := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	orig := models.Material{
		Base:  models.Base{ID: 1, CreatedAt: created, UpdatedAt: created},
		Name:  "Wool",
		Brand: "Cascade",
		Color: "Red",
	}
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", orig, material(2, "Silk")))

	err := h.materials.Update(context.Background(), 1, Patch{
		"color":     json.RawMessage(`"Blue"`),
		"id":        json.RawMessage(`99`),
		"createdAt": json.RawMessage(`"2030-01-01T00:00:00Z"`),
	})
	require.NoError(t, err)

	got, err := h.materials.GetByID(context.Background(), 1)
	require.NoError(t, err)

	want := orig
	want.Color = "Blue"
	want.UpdatedAt = fixedNow
	assert.Equal(t, want, got)

	doc := remoteMaterials(t, h)
	assert.Equal(t, 1, doc.Items[0].ID, "index-stable replace")
	assert.Equal(t, 2, doc.Items[1].ID)
	assert.Equal(t, "Update material #1", h.fake.Commits()[0].Message)
}

func TestUpdate_RejectsInvalidValues(t *testing.T) {
	h := newHarness(t, "good-token")
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool")))

	err := h.materials.Update(context.Background(), 1, Patch{"yardage": json.RawMessage(`"lots"`)})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	err = h.materials.Update(context.Background(), 1, Patch{"name": json.RawMessage(`""`)})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	_, puts := h.fake.Requests()
	assert.Zero(t, puts)
}

func TestUpdate_NotFound(t *testing.T) {
	h := newHarness(t, "good-token")

	err := h.materials.Update(context.Background(), 7, Patch{"name": json.RawMessage(`"x"`)})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.Equal(t, syncstate.StatusError, h.tracker.Snapshot().Status)
	assert.Zero(t, h.tracker.Snapshot().PendingOperations)
}

func TestDeleteThenGetByID(t *testing.T) {
	h := newHarness(t, "good-token")
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"), material(2, "Silk")))

	require.NoError(t, h.materials.Delete(context.Background(), 1))

	_, err := h.materials.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	items, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].ID)

	assert.ErrorIs(t, h.materials.Delete(context.Background(), 1), perrors.ErrNotFound)
}

func TestWriteRace_Conflict(t *testing.T) {
	h := newHarness(t, "good-token")
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool")))

	competing := materialsDoc("2025-02-01T00:00:00Z", material(1, "Wool"), material(2, "Mohair"))
	h.fake.BeforePut = func(path string) { h.fake.PutFile(path, competing) }

	_, err := h.materials.Create(context.Background(), models.Material{Name: "Cotton"})
	assert.ErrorIs(t, err, perrors.ErrConflict)

	raw, _ := h.fake.File("data/materials.json")
	assert.Equal(t, string(competing), string(raw), "no merge happens")
	assert.Empty(t, h.fake.Commits())

	s := h.tracker.Snapshot()
	assert.Equal(t, syncstate.StatusError, s.Status)
	assert.Zero(t, s.PendingOperations)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Conflicts.WithLabelValues("materials")))
}

func TestAuthRejected_ClearsSessionOnce(t *testing.T) {
	h := newHarness(t, "revoked-token")
	h.fake.PutFile("data/materials.json", materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool")))

	_, err := h.materials.Create(context.Background(), models.Material{Name: "Cotton"})
	assert.ErrorIs(t, err, perrors.ErrAuthRejected)
	assert.Equal(t, int32(1), h.rejected.Load())
	assert.False(t, h.session.IsAuthenticated())

	// Next write fails fast, the hook does not fire again.
	_, err = h.materials.Create(context.Background(), models.Material{Name: "Cotton"})
	assert.ErrorIs(t, err, perrors.ErrUnauthenticated)
	assert.Equal(t, int32(1), h.rejected.Load())
}

func TestAuthRejected_OnRead(t *testing.T) {
	h := newHarness(t, "revoked-token")
	h.static["materials"] = materialsDoc("2025-01-01T00:00:00Z", material(1, "Wool"))

	_, err := h.materials.GetAll(context.Background())
	assert.ErrorIs(t, err, perrors.ErrAuthRejected)
	assert.Equal(t, int32(1), h.rejected.Load())

	// Signed out now, so reads fall back to the static snapshot.
	items, err := h.materials.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNextID(t *testing.T) {
	assert.Equal(t, 1, nextID[models.Material]([]models.Material{}))
	assert.Equal(t, 4, nextID[models.Material]([]models.Material{material(1, "a"), material(3, "b")}))
}

func TestUpdate_KeepsUnmodelledFields(t *testing.T) {
	h := newHarness(t, "good-token")
	h.fake.PutFile("data/projects.json", []byte(`{
  "metadata": {"lastSynced": "2025-01-01T00:00:00Z", "version": "1.0"},
  "projects": [
    {"id": 1, "name": "Hat", "craftType": 0, "status": 1,
     "startDate": "2025-03-01", "completionDate": "",
     "projectImages": [{"id": 7, "projectId": 1, "fileName": "hat.jpg", "filePath": "/img/hat.jpg", "uploadedAt": "2025-03-02T00:00:00Z", "caption": "front"}],
     "gauge": {"stitches": 22, "rows": 30}},
    {"id": 2, "name": "Scarf", "craftType": 1, "status": 0}
  ]
}`))

	require.NoError(t, h.projects.Update(context.Background(), 2, Patch{"notes": json.RawMessage(`"warm"`)}))

	raw, ok := h.fake.File("data/projects.json")
	require.True(t, ok)
	var doc struct {
		Projects []map[string]json.RawMessage `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Projects, 2)

	hat := doc.Projects[0]
	assert.JSONEq(t, `{"stitches": 22, "rows": 30}`, string(hat["gauge"]))
	assert.JSONEq(t, `"2025-03-01"`, string(hat["startDate"]))
	assert.JSONEq(t, `""`, string(hat["completionDate"]))

	var images []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(hat["projectImages"], &images))
	require.Len(t, images, 1)
	assert.JSONEq(t, `1`, string(images[0]["projectId"]))
	assert.JSONEq(t, `"front"`, string(images[0]["caption"]))

	assert.JSONEq(t, `"warm"`, string(doc.Projects[1]["notes"]))
}

func TestGetAll_AcceptsDateOnlyValues(t *testing.T) {
	h := newHarness(t, "")
	h.static["projects"] = []byte(`{"metadata": {"lastSynced": "2025-01-01", "version": "1.0"},
  "projects": [{"id": 1, "name": "Hat", "craftType": 0, "status": 2, "startDate": "2025-03-01", "completionDate": ""}]}`)

	items, err := h.projects.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].StartDate)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), items[0].StartDate.Time())
	require.NotNil(t, items[0].CompletionDate)
	assert.True(t, items[0].CompletionDate.IsZero())
}
