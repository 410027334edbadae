package github

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/github/ghfake"
)

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", perrors.ErrUnauthenticated
	}
	return string(s), nil
}

const docPath = "data/projects.json"

func newTestClient(t *testing.T, token string) (*Client, *ghfake.Server) {
	t.Helper()
	fake := ghfake.New("octo", "crafts")
	t.Cleanup(fake.Close)
	fake.AddToken("good-token", "octocat")

	c, err := NewClient(Config{BaseURL: fake.URL, Owner: "octo", Repo: "crafts", Branch: "main"}, staticToken(token), zerolog.Nop())
	require.NoError(t, err)
	return c, fake
}

func TestNewClient_RequiresRepository(t *testing.T) {
	_, err := NewClient(Config{Owner: "octo"}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestFetchDocument(t *testing.T) {
	c, fake := newTestClient(t, "good-token")
	fake.PutFile(docPath, []byte(`{"metadata":{}}`))

	doc, err := c.FetchDocument(context.Background(), docPath)
	require.NoError(t, err)
	assert.Equal(t, `{"metadata":{}}`, string(doc.Content))
	assert.Equal(t, ghfake.BlobSHA([]byte(`{"metadata":{}}`)), doc.SHA)
}

func TestFetchDocument_NotFound(t *testing.T) {
	c, _ := newTestClient(t, "good-token")

	_, err := c.FetchDocument(context.Background(), docPath)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestFetchDocument_NoSession(t *testing.T) {
	c, fake := newTestClient(t, "")

	_, err := c.FetchDocument(context.Background(), docPath)
	assert.ErrorIs(t, err, perrors.ErrUnauthenticated)

	gets, puts := fake.Requests()
	assert.Zero(t, gets, "no network call without a session")
	assert.Zero(t, puts)
}

func TestFetchDocument_AuthRejectedFiresHook(t *testing.T) {
	c, fake := newTestClient(t, "revoked")
	fake.PutFile(docPath, []byte(`{}`))

	var calls atomic.Int32
	c.OnAuthRejected(func(ctx context.Context, token string) {
		assert.Equal(t, "revoked", token)
		calls.Add(1)
	})

	_, err := c.FetchDocument(context.Background(), docPath)
	assert.ErrorIs(t, err, perrors.ErrAuthRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWriteDocument_CreatesWhenMissing(t *testing.T) {
	c, fake := newTestClient(t, "good-token")

	res, err := c.WriteDocument(context.Background(), docPath, []byte("hello\n"), "Create project: Socks", "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, ghfake.BlobSHA([]byte("hello\n")), res.SHA)
	assert.NotEmpty(t, res.CommitSHA)

	stored, ok := fake.File(docPath)
	require.True(t, ok)
	assert.Equal(t, "hello\n", string(stored), "content is base64-encoded exactly once")

	commits := fake.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, "Create project: Socks", commits[0].Message)
	assert.Equal(t, "main", commits[0].Branch)
}

func TestWriteDocument_LooksUpCurrentSHA(t *testing.T) {
	c, fake := newTestClient(t, "good-token")
	fake.PutFile(docPath, []byte("v1"))

	// A stale knownSHA must not matter; the client re-reads the hash.
	res, err := c.WriteDocument(context.Background(), docPath, []byte("v2"), "Update project #1", "stale-sha")
	require.NoError(t, err)
	assert.False(t, res.Created)

	stored, _ := fake.File(docPath)
	assert.Equal(t, "v2", string(stored))

	gets, puts := fake.Requests()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, puts)
}

func TestWriteDocument_ConflictOnRace(t *testing.T) {
	c, fake := newTestClient(t, "good-token")
	fake.PutFile(docPath, []byte("v1"))
	fake.BeforePut = func(path string) {
		fake.PutFile(path, []byte("other writer"))
	}

	_, err := c.WriteDocument(context.Background(), docPath, []byte("mine"), "Update project #1", "")
	assert.ErrorIs(t, err, perrors.ErrConflict)

	stored, _ := fake.File(docPath)
	assert.Equal(t, "other writer", string(stored), "remote keeps the competing write")
}

func TestWriteDocument_ConflictWhenCreatedConcurrently(t *testing.T) {
	c, fake := newTestClient(t, "good-token")
	fake.BeforePut = func(path string) {
		fake.PutFile(path, []byte("created elsewhere"))
	}

	_, err := c.WriteDocument(context.Background(), docPath, []byte("mine"), "Create project: Hat", "")
	assert.ErrorIs(t, err, perrors.ErrConflict)
}

func TestWriteDocument_AuthRejectedDuringLookup(t *testing.T) {
	c, fake := newTestClient(t, "revoked")
	fake.PutFile(docPath, []byte("v1"))

	var calls atomic.Int32
	c.OnAuthRejected(func(ctx context.Context, token string) {
		assert.Equal(t, "revoked", token)
		calls.Add(1)
	})

	_, err := c.WriteDocument(context.Background(), docPath, []byte("v2"), "Update project #1", "")
	assert.ErrorIs(t, err, perrors.ErrAuthRejected)
	assert.Equal(t, int32(1), calls.Load())

	_, puts := fake.Requests()
	assert.Zero(t, puts, "no write attempted after a rejected lookup")
}

func TestFetchUser(t *testing.T) {
	c, _ := newTestClient(t, "")

	user, err := c.FetchUser(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Login)
	assert.Contains(t, user.AvatarURL, "octocat")

	_, err = c.FetchUser(context.Background(), "bad-token")
	assert.ErrorIs(t, err, perrors.ErrAuthRejected)

	_, err = c.FetchUser(context.Background(), "")
	assert.ErrorIs(t, err, perrors.ErrUnauthenticated)
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, "")
	assert.NoError(t, c.Ping(context.Background()))
}

func TestTransportFailure(t *testing.T) {
	c, fake := newTestClient(t, "good-token")
	fake.Close()

	_, err := c.FetchDocument(context.Background(), docPath)
	var apiErr *perrors.APIError
	assert.ErrorAs(t, err, &apiErr)
}
