// Package collection implements CRUD over one JSON document per entity kind.
// Every mutation reads the whole collection, changes it in memory and commits
// the whole document back.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cinnamon-msft/tangled/internal/document"
	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/github"
	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/models"
	"github.com/cinnamon-msft/tangled/internal/reconcile"
	"github.com/cinnamon-msft/tangled/internal/syncstate"
)

// Entity is the pointer side of a stored model.
type Entity[T any] interface {
	*T
	Meta() *models.Base
	Validate() error
	Title() string
}

// Remote reads and writes repository files.
type Remote interface {
	FetchDocument(ctx context.Context, path string) (*github.RemoteDocument, error)
	WriteDocument(ctx context.Context, path string, content []byte, message, knownSHA string) (*github.CommitResult, error)
}

// Snapshot serves the static copy of a collection.
type Snapshot interface {
	Fetch(ctx context.Context, collection string) ([]byte, error)
}

// Session reports whether a user is signed in.
type Session interface {
	IsAuthenticated() bool
}

// Patch is a shallow update keyed by JSON field name.
type Patch map[string]json.RawMessage

// Options wires a collection to its collaborators.
type Options struct {
	Name       string // document name and array key, e.g. "projects"
	Noun       string // used in commit messages, e.g. "project"
	DataPath   string // repository directory holding the documents
	Version    string
	Remote     Remote
	Snapshot   Snapshot
	Session    Session
	Tracker    *syncstate.Tracker
	Metrics    *metrics.Metrics
	Reconciler *reconcile.Reconciler
	Logger     zerolog.Logger
}

// Collection is the CRUD surface over one document.
type Collection[T any, P Entity[T]] struct {
	name       string
	noun       string
	path       string
	version    string
	remote     Remote
	snapshot   Snapshot
	session    Session
	tracker    *syncstate.Tracker
	metrics    *metrics.Metrics
	reconciler *reconcile.Reconciler
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a collection. The pointer type is inferred: New[models.Project](opts).
func New[T any, P Entity[T]](opts Options) *Collection[T, P] {
	noun := opts.Noun
	if noun == "" {
		noun = strings.TrimSuffix(opts.Name, "s")
	}
	rec := opts.Reconciler
	if rec == nil {
		rec = reconcile.New(opts.Logger)
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = syncstate.NewTracker()
	}
	return &Collection[T, P]{
		name:       opts.Name,
		noun:       noun,
		path:       path.Join(opts.DataPath, opts.Name+".json"),
		version:    opts.Version,
		remote:     opts.Remote,
		snapshot:   opts.Snapshot,
		session:    opts.Session,
		tracker:    tracker,
		metrics:    opts.Metrics,
		reconciler: rec,
		logger:     opts.Logger.With().Str("component", "collection").Str("collection", opts.Name).Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the document name.
func (c *Collection[T, P]) Name() string { return c.name }

// Path returns the repository path of the document.
func (c *Collection[T, P]) Path() string { return c.path }

// GetAll returns every entity. Guests get the static snapshot; signed-in users
// get the remote document when it is strictly newer.
func (c *Collection[T, P]) GetAll(ctx context.Context) (items []T, err error) {
	defer c.observe("get_all", time.Now(), &err)

	doc, _, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Items, nil
}

// GetByID scans GetAll for id.
func (c *Collection[T, P]) GetByID(ctx context.Context, id int) (item T, err error) {
	defer c.observe("get", time.Now(), &err)

	doc, _, err := c.load(ctx)
	if err != nil {
		return item, err
	}
	if i := indexOf[T, P](doc.Items, id); i >= 0 {
		return doc.Items[i], nil
	}
	return item, fmt.Errorf("%s %d: %w", c.noun, id, perrors.ErrNotFound)
}

// Create assigns the next id, stamps timestamps, appends and commits.
func (c *Collection[T, P]) Create(ctx context.Context, input T) (created T, err error) {
	defer c.observe("create", time.Now(), &err)

	if err := c.requireSession(); err != nil {
		return created, err
	}
	if err := P(&input).Validate(); err != nil {
		return created, err
	}

	err = c.mutate(ctx, func(doc *document.Document[T]) (string, error) {
		now := c.now()
		meta := P(&input).Meta()
		meta.ID = nextID[T, P](doc.Items)
		meta.CreatedAt = now
		meta.UpdatedAt = now

		doc.Items = append(doc.Items, input)
		created = input
		return fmt.Sprintf("Create %s: %s", c.noun, P(&input).Title()), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return created, nil
}

// Update merges patch onto the stored entity. id and createdAt never change.
func (c *Collection[T, P]) Update(ctx context.Context, id int, patch Patch) (err error) {
	defer c.observe("update", time.Now(), &err)

	if err := c.requireSession(); err != nil {
		return err
	}

	return c.mutate(ctx, func(doc *document.Document[T]) (string, error) {
		i := indexOf[T, P](doc.Items, id)
		if i < 0 {
			return "", fmt.Errorf("%s %d: %w", c.noun, id, perrors.ErrNotFound)
		}

		merged, err := applyPatch[T, P](doc.Items[i], patch)
		if err != nil {
			return "", err
		}
		P(&merged).Meta().UpdatedAt = c.now()

		doc.Items[i] = merged
		return fmt.Sprintf("Update %s #%d", c.noun, id), nil
	})
}

// Delete removes id and commits the reduced document.
func (c *Collection[T, P]) Delete(ctx context.Context, id int) (err error) {
	defer c.observe("delete", time.Now(), &err)

	if err := c.requireSession(); err != nil {
		return err
	}

	return c.mutate(ctx, func(doc *document.Document[T]) (string, error) {
		i := indexOf[T, P](doc.Items, id)
		if i < 0 {
			return "", fmt.Errorf("%s %d: %w", c.noun, id, perrors.ErrNotFound)
		}

		kept := make([]T, 0, len(doc.Items)-1)
		kept = append(kept, doc.Items[:i]...)
		kept = append(kept, doc.Items[i+1:]...)
		doc.Items = kept
		return fmt.Sprintf("Delete %s #%d", c.noun, id), nil
	})
}

// mutate runs one read → change → write cycle.
func (c *Collection[T, P]) mutate(ctx context.Context, change func(*document.Document[T]) (string, error)) (err error) {
	c.tracker.IncrementPending()
	defer c.tracker.DecrementPending()
	c.tracker.RecordSyncStart()
	defer func() {
		if err != nil {
			c.tracker.RecordSyncError(err.Error())
		}
	}()

	doc, sha, err := c.loadDocuments(ctx, true)
	if err != nil {
		return err
	}

	message, err := change(doc)
	if err != nil {
		return err
	}

	now := c.now()
	doc.Metadata.LastSynced = now.Format(time.RFC3339Nano)
	if c.version != "" {
		doc.Metadata.Version = c.version
	}

	content, err := doc.Encode()
	if err != nil {
		return err
	}

	if _, err := c.remote.WriteDocument(ctx, c.path, content, message, sha); err != nil {
		return fmt.Errorf("writing %s: %w", c.name, err)
	}

	c.tracker.RecordSyncSuccess(now)
	c.logger.Info().Str("message", message).Int("count", len(doc.Items)).Msg("collection committed")
	return nil
}

// load resolves the winning document for reads and records sync state when
// the remote is consulted.
func (c *Collection[T, P]) load(ctx context.Context) (*document.Document[T], string, error) {
	if !c.authenticated() {
		return c.loadDocuments(ctx, false)
	}

	c.tracker.IncrementPending()
	defer c.tracker.DecrementPending()
	c.tracker.RecordSyncStart()

	doc, sha, err := c.loadDocuments(ctx, true)
	if err != nil {
		c.tracker.RecordSyncError(err.Error())
		return nil, "", err
	}

	ts, perr := reconcile.ParseTimestamp(doc.Metadata.LastSynced)
	if perr != nil {
		ts = time.Time{}
	}
	c.tracker.RecordSyncSuccess(ts)
	return doc, sha, nil
}

// loadDocuments fetches the static snapshot and, when withRemote is set, the
// remote document, returning the winner and the remote SHA if one exists.
func (c *Collection[T, P]) loadDocuments(ctx context.Context, withRemote bool) (*document.Document[T], string, error) {
	local, found, staticErr := c.loadStatic(ctx)
	if !withRemote {
		return local, "", staticErr
	}

	remote, err := c.remote.FetchDocument(ctx, c.path)
	if errors.Is(err, perrors.ErrNotFound) {
		if staticErr != nil {
			return nil, "", staticErr
		}
		c.logger.Debug().Str("path", c.path).Msg("no remote document yet, using static snapshot")
		return local, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetching remote %s: %w", c.name, err)
	}

	remoteDoc, err := document.Decode[T](c.name, remote.Content)
	if err != nil {
		return nil, "", &perrors.APIError{Service: "github", Message: "remote " + c.name + " document is malformed", Err: err}
	}

	switch {
	case staticErr != nil:
		c.logger.Warn().Err(staticErr).Msg("static snapshot unavailable, using remote document")
		return remoteDoc, remote.SHA, nil
	case !found:
		return remoteDoc, remote.SHA, nil
	}
	return reconcile.Pick(c.reconciler, local, remoteDoc), remote.SHA, nil
}

// loadStatic returns the static document and whether one was published.
func (c *Collection[T, P]) loadStatic(ctx context.Context) (*document.Document[T], bool, error) {
	if c.snapshot == nil {
		return document.New[T](c.name), false, nil
	}
	data, err := c.snapshot.Fetch(ctx, c.name)
	if errors.Is(err, perrors.ErrNotFound) {
		return document.New[T](c.name), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading static %s: %w", c.name, err)
	}
	doc, err := document.Decode[T](c.name, data)
	if err != nil {
		return nil, false, fmt.Errorf("loading static %s: %w", c.name, err)
	}
	return doc, true, nil
}

func (c *Collection[T, P]) authenticated() bool {
	return c.session != nil && c.session.IsAuthenticated()
}

func (c *Collection[T, P]) requireSession() error {
	if !c.authenticated() {
		return fmt.Errorf("%s changes need a session: %w", c.noun, perrors.ErrUnauthenticated)
	}
	return nil
}

func (c *Collection[T, P]) observe(op string, start time.Time, err *error) {
	kind := perrors.Kind(*err)
	if c.metrics != nil {
		c.metrics.RecordSync(c.name, op, kind, time.Since(start).Seconds())
		if kind == "conflict" {
			c.metrics.RecordConflict(c.name)
		}
	}
	if *err != nil {
		c.logger.Warn().Err(*err).Str("op", op).Msg("collection operation failed")
	}
}

func indexOf[T any, P Entity[T]](items []T, id int) int {
	for i := range items {
		if P(&items[i]).Meta().ID == id {
			return i
		}
	}
	return -1
}

// nextID is max(ids)+1, or 1 for an empty collection.
func nextID[T any, P Entity[T]](items []T) int {
	highest := 0
	for i := range items {
		if id := P(&items[i]).Meta().ID; id > highest {
			highest = id
		}
	}
	return highest + 1
}

var immutableKeys = []string{"id", "createdAt", "updatedAt"}

// applyPatch overlays patch onto the JSON form of current and decodes the result.
// Keys match field names case-insensitively, like encoding/json does.
func applyPatch[T any, P Entity[T]](current T, patch Patch) (T, error) {
	var merged T

	raw, err := json.Marshal(P(&current))
	if err != nil {
		return merged, fmt.Errorf("encoding entity: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return merged, fmt.Errorf("encoding entity: %w", err)
	}

	for key, value := range patch {
		if isImmutable(key) {
			continue
		}
		for existing := range fields {
			if strings.EqualFold(existing, key) {
				delete(fields, existing)
			}
		}
		fields[key] = value
	}

	raw, err = json.Marshal(fields)
	if err != nil {
		return merged, fmt.Errorf("%v: %w", err, perrors.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, P(&merged)); err != nil {
		return merged, fmt.Errorf("applying patch: %v: %w", err, perrors.ErrInvalidInput)
	}

	meta, orig := P(&merged).Meta(), P(&current).Meta()
	meta.ID = orig.ID
	meta.CreatedAt = orig.CreatedAt
	meta.UpdatedAt = orig.UpdatedAt

	if err := P(&merged).Validate(); err != nil {
		return merged, err
	}
	return merged, nil
}

func isImmutable(key string) bool {
	for _, k := range immutableKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
