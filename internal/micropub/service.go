// Package micropub is the publishing core: it authorizes requests, assigns
// ids, applies updates, persists posts and rebuilds the output tree after
// every change.
package micropub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/postgate/internal/fs"
	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
	"github.com/calvinalkan/postgate/internal/reconcile"
	"github.com/calvinalkan/postgate/internal/render"
	"github.com/calvinalkan/postgate/internal/store"
)

const (
	// DefaultType is used when a create request names no type.
	DefaultType = "h-entry"

	// DefaultCreateRetries bounds how often a create recomputes its id after
	// losing an insert race.
	DefaultCreateRetries = 3

	// DefaultLockTimeout bounds the wait for the cross-process sync lock.
	DefaultLockTimeout = 30 * time.Second
)

// Service runs Micropub operations against a store and an output tree.
//
// Every mutating operation commits to the store and then rebuilds the tree
// while holding an in-process mutex and, when configured, a file lock shared
// with other processes. Two rebuilds never interleave.
type Service struct {
	me         *url.URL
	store      store.Store
	reconciler *reconcile.Reconciler

	log     *logrus.Logger
	now     func() time.Time
	retries int

	locker      *fs.Locker
	lockPath    string
	lockTimeout time.Duration

	mu sync.Mutex
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock sets the clock used for default publish times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetries sets how many times a create retries after an id conflict.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithLock serializes commit and sync across processes with an exclusive
// flock on path.
func WithLock(locker *fs.Locker, path string) Option {
	return func(s *Service) {
		s.locker = locker
		s.lockPath = path
	}
}

// WithLockTimeout sets the maximum wait for the file lock. Zero fails at
// once when another process holds the lock; a negative duration waits
// without limit.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.lockTimeout = d
	}
}

// New creates a Service publishing to the site at me.
func New(me string, st store.Store, rec *reconcile.Reconciler, opts ...Option) (*Service, error) {
	u, err := parseMe(me)
	if err != nil {
		return nil, err
	}

	if st == nil || rec == nil {
		return nil, errors.New("new service: store and reconciler are required")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Service{
		me:          u,
		store:       st,
		reconciler:  rec,
		log:         discard,
		now:         time.Now,
		retries:     DefaultCreateRetries,
		lockTimeout: DefaultLockTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func parseMe(me string) (*url.URL, error) {
	u, err := url.Parse(me)
	if err != nil {
		return nil, fmt.Errorf("parse me %q: %w", me, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("parse me %q: must be an absolute http(s) URL", me)
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u, nil
}

// Me returns the normalized site URL, always ending in a slash.
func (s *Service) Me() string {
	return s.me.String()
}

// URLFor returns the public URL of a post id.
func (s *Service) URLFor(id string) string {
	return s.me.String() + id
}

// IDFromURL maps a post URL back to its id. URLs outside the site are
// rejected.
func (s *Service) IDFromURL(raw string) (string, error) {
	if raw == "" {
		return "", newError(KindBadRequest, nil, "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", newError(KindBadRequest, err, "malformed url %q", raw)
	}

	if !strings.EqualFold(u.Scheme, s.me.Scheme) || !strings.EqualFold(u.Host, s.me.Host) ||
		!strings.HasPrefix(u.Path, s.me.Path) {
		return "", newError(KindBadRequest, nil, "url %q is not under %s", raw, s.me)
	}

	id := strings.Trim(strings.TrimPrefix(u.Path, s.me.Path), "/")
	if id == "" {
		return "", newError(KindBadRequest, nil, "url %q does not name a post", raw)
	}

	return id, nil
}

// operation returns a logger entry carrying a fresh correlation id.
func (s *Service) operation(op string) *logrus.Entry {
	fields := logrus.Fields{"op": op}

	if id, err := uuid.NewV7(); err == nil {
		fields["op_id"] = id.String()
	}

	return s.log.WithFields(fields)
}

// exclusive runs fn while holding the commit+sync locks.
func (s *Service) exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locker != nil {
		lock, err := s.acquire()
		if err != nil {
			return newError(KindInternal, err, "acquire sync lock %s", s.lockPath)
		}

		defer func() { _ = lock.Close() }()
	}

	return fn()
}

func (s *Service) acquire() (*fs.Lock, error) {
	switch {
	case s.lockTimeout == 0:
		return s.locker.TryLock(s.lockPath)
	case s.lockTimeout < 0:
		return s.locker.Lock(s.lockPath)
	default:
		return s.locker.LockWithTimeout(s.lockPath, s.lockTimeout)
	}
}

// Handle dispatches a decoded request by its action.
func (s *Service) Handle(ctx context.Context, p *Principal, req Request) (Response, error) {
	switch req.Action {
	case "", ActionCreate:
		created, err := s.Create(ctx, p, req.Type.First(), req.Properties)
		if err != nil {
			return Response{}, err
		}

		return Response{Action: ActionCreate, Location: s.URLFor(created.ID)}, nil
	case ActionUpdate:
		updated, err := s.Update(ctx, p, req.URL, req.Update)
		if err != nil {
			return Response{}, err
		}

		return Response{Action: ActionUpdate, Location: s.URLFor(updated.ID)}, nil
	case ActionDelete:
		_, err := s.Delete(ctx, p, req.URL)
		if err != nil {
			return Response{}, err
		}

		return Response{Action: ActionDelete}, nil
	default:
		return Response{}, newError(KindBadRequest, nil, "unsupported action %q", req.Action)
	}
}

// Create stores a new post built from properties and rebuilds the tree.
func (s *Service) Create(ctx context.Context, p *Principal, typ string, properties props.Bag) (post.Post, error) {
	log := s.operation(ActionCreate)

	err := s.authorize(p, ScopeCreate)
	if err != nil {
		return post.Post{}, err
	}

	if typ == "" {
		typ = DefaultType
	}

	published, err := post.PublishedFrom(properties, s.now())
	if err != nil {
		return post.Post{}, newError(KindBadRequest, err, "invalid published date")
	}

	bag := normalizeSlug(properties).Without(post.PropPublished, post.PropUpdated)
	slug := post.SlugFrom(bag)

	candidate := post.Post{
		Type:       typ,
		Kind:       post.Classify(bag),
		Published:  published,
		Properties: bag,
	}

	log = log.WithField("kind", candidate.Kind)

	err = s.exclusive(func() error {
		created, err := s.insert(ctx, log, candidate, slug)
		if err != nil {
			return err
		}

		candidate = created
		log = log.WithField("id", created.ID)

		return s.sync(ctx, log)
	})
	if err != nil {
		log.WithError(err).WithField("error_kind", KindOf(err)).Warn("create failed")

		return post.Post{}, err
	}

	log.Info("post created")

	return candidate, nil
}

// insert assigns an id and stores candidate. Without a slug, a conflict
// retries with a fresh partition count, never reusing an ordinal that was
// already found taken. That also steps over slugs that look like ordinals.
func (s *Service) insert(ctx context.Context, log *logrus.Entry, candidate post.Post, slug string) (post.Post, error) {
	day := post.Day(candidate.Published)
	floor := 0

	for attempt := 0; ; attempt++ {
		count, err := s.store.CountPartition(ctx, candidate.Kind, day)
		if err != nil {
			return post.Post{}, newError(KindInternal, err, "count partition")
		}

		count = max(count, floor)

		candidate.ID, err = post.GenerateID(candidate.Kind, candidate.Published, slug, count)
		if err != nil {
			return post.Post{}, newError(KindBadRequest, err, "cannot derive post id")
		}

		if attempt == 0 {
			err = s.check(candidate)
			if err != nil {
				return post.Post{}, err
			}
		}

		err = s.store.Insert(ctx, candidate)
		if err == nil {
			return candidate, nil
		}

		if !errors.Is(err, store.ErrConflict) {
			return post.Post{}, newError(KindInternal, err, "store post")
		}

		if slug != "" {
			return post.Post{}, newError(KindConflict, err, "a post with id %s already exists", candidate.ID)
		}

		if attempt >= s.retries {
			return post.Post{}, newError(KindInternal, err, "id still taken after %d retries", s.retries)
		}

		floor = count + 1

		log.WithFields(logrus.Fields{"id": candidate.ID, "attempt": attempt + 1}).Warn("id conflict, retrying")
	}
}

// check rejects a post before it is stored if the sync could not write it:
// its id must map to a generated document and it must render.
func (s *Service) check(p post.Post) error {
	_, err := s.reconciler.Path(p.ID)
	if err != nil {
		return newError(KindBadRequest, err, "id %s cannot be published", p.ID)
	}

	_, err = render.Render(p)
	if err != nil {
		return newError(KindBadRequest, err, "post cannot be rendered")
	}

	return nil
}

// normalizeSlug moves the deprecated slug property to mp-slug.
func normalizeSlug(bag props.Bag) props.Bag {
	if !bag.Has("slug") {
		return bag
	}

	out := bag.Without("slug")
	if !out.Has(post.PropSlug) {
		out.Set(post.PropSlug, bag.Get("slug"))
	}

	return out
}

// Update applies upd to the post at rawURL and rebuilds the tree.
func (s *Service) Update(ctx context.Context, p *Principal, rawURL string, upd post.Update) (post.Post, error) {
	log := s.operation(ActionUpdate)

	err := s.authorize(p, ScopeUpdate)
	if err != nil {
		return post.Post{}, err
	}

	id, err := s.IDFromURL(rawURL)
	if err != nil {
		return post.Post{}, err
	}

	log = log.WithField("id", id)

	if upd.Empty() {
		return post.Post{}, newError(KindBadRequest, nil, "update needs add, replace or delete")
	}

	var updated post.Post

	err = s.exclusive(func() error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return storeError(err, id)
		}

		bag, err := post.ApplyUpdate(current.Properties, upd)
		if err != nil {
			return newError(KindBadRequest, err, "cannot apply update")
		}

		bag = bag.Without(post.PropPublished, post.PropUpdated)

		candidate := current
		candidate.Properties = bag
		stamp := s.now().UTC()
		candidate.Updated = &stamp

		_, err = render.Render(candidate)
		if err != nil {
			return newError(KindBadRequest, err, "updated post cannot be rendered")
		}

		updated, err = s.store.UpdateProperties(ctx, id, bag)
		if err != nil {
			return storeError(err, id)
		}

		return s.sync(ctx, log.WithField("kind", updated.Kind))
	})
	if err != nil {
		log.WithError(err).WithField("error_kind", KindOf(err)).Warn("update failed")

		return post.Post{}, err
	}

	log.WithField("kind", updated.Kind).Info("post updated")

	return updated, nil
}

// Delete removes the post at rawURL, keeps its tombstone and rebuilds the
// tree.
func (s *Service) Delete(ctx context.Context, p *Principal, rawURL string) (post.DeletedPost, error) {
	log := s.operation(ActionDelete)

	err := s.authorize(p, ScopeDelete)
	if err != nil {
		return post.DeletedPost{}, err
	}

	id, err := s.IDFromURL(rawURL)
	if err != nil {
		return post.DeletedPost{}, err
	}

	log = log.WithField("id", id)

	var tomb post.DeletedPost

	err = s.exclusive(func() error {
		deleted, err := s.store.Delete(ctx, id)
		if err != nil {
			return storeError(err, id)
		}

		tomb = deleted

		return s.sync(ctx, log.WithField("kind", tomb.Kind))
	})
	if err != nil {
		log.WithError(err).WithField("error_kind", KindOf(err)).Warn("delete failed")

		return post.DeletedPost{}, err
	}

	log.WithField("kind", tomb.Kind).Info("post deleted")

	return tomb, nil
}

// Sync rebuilds the output tree from the store.
func (s *Service) Sync(ctx context.Context) (reconcile.Report, error) {
	log := s.operation("sync")

	var report reconcile.Report

	err := s.exclusive(func() error {
		var err error

		report, err = s.rebuild(ctx)

		return err
	})
	if err != nil {
		log.WithError(err).Error("sync failed")

		return report, err
	}

	logReport(log, report)

	return report, nil
}

// sync rebuilds the tree after a commit. Callers hold the locks.
func (s *Service) sync(ctx context.Context, log *logrus.Entry) error {
	report, err := s.rebuild(ctx)
	if err != nil {
		log.WithError(err).Error("sync after commit failed; tree is stale until the next sync")

		return err
	}

	logReport(log, report)

	return nil
}

func (s *Service) rebuild(ctx context.Context) (reconcile.Report, error) {
	posts, err := s.store.List(ctx)
	if err != nil {
		return reconcile.Report{}, newError(KindInternal, err, "list posts")
	}

	report, err := s.reconciler.Sync(ctx, posts)
	if err != nil {
		return report, newError(KindInternal, err, "sync output tree")
	}

	return report, nil
}

func logReport(log *logrus.Entry, r reconcile.Report) {
	log.WithFields(logrus.Fields{
		"documents_removed":   r.DocumentsRemoved,
		"directories_removed": r.DirectoriesRemoved,
		"documents_written":   r.DocumentsWritten,
	}).Info("output tree synced")
}

func storeError(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, err, "no post %s", id)
	}

	return newError(KindInternal, err, "store")
}
