// Package configrepo keeps the merged configuration of the server current.
// It reads the main configuration file and the config repositories, merges
// and validates them, and publishes the result. When the latest partials do
// not merge into a valid configuration, the last valid partial of every
// repository is used instead.
package configrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rzbill/cruise/internal/workqueue"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/rzbill/cruise/pkg/metrics"
	"github.com/rzbill/cruise/pkg/partial"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig is returned when neither the latest nor the last valid
// partials merge into a valid configuration.
var ErrInvalidConfig = errors.New("configuration is invalid")

const (
	mainKey       = "main"
	repoKeyPrefix = "repo:"

	// fetchConcurrency bounds the fetches of a full reload.
	fetchConcurrency = 4
)

// State is one published configuration.
type State struct {
	Config *merge.CruiseConfig
	// Revisions maps repo ids to the revision merged into Config.
	Revisions map[string]string
	// Fallback is set when the latest partials were invalid and the last
	// valid ones were merged instead.
	Fallback bool
	LoadedAt time.Time
}

// RepoStatus reports the health of one config repository.
type RepoStatus struct {
	Repo Repo
	// LastKnownRevision is the latest revision that parsed.
	LastKnownRevision string
	// LastValidRevision is the latest revision that merged without errors.
	LastValidRevision string
	// Error is the latest fetch or parse failure.
	Error error
}

// Options configure a Service.
type Options struct {
	// MainFile is the local configuration file. Empty means an empty main
	// configuration.
	MainFile string
	Repos    []Repo

	// Fetcher defaults to DirFetcher for every repo type.
	Fetcher Fetcher
	Cache   *partial.Cache

	Validation merge.ValidationContext

	// Schedule is a cron expression for periodic refreshes of every repo.
	// Empty disables polling.
	Schedule string
	// Watch refreshes on file changes to the main file and repo checkouts.
	Watch bool
	// Debounce delays refreshes caused by file changes.
	Debounce time.Duration

	Workers int
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Service owns the merged configuration.
type Service struct {
	opts    Options
	repos   map[string]Repo
	fetcher Fetcher
	cache   *partial.Cache
	logger  log.Logger

	current  atomic.Pointer[State]
	failures atomic.Pointer[[]merge.ValidationFailure]

	// rebuildMu serializes merges.
	rebuildMu sync.Mutex

	mu      sync.RWMutex
	errs    map[string]error
	mainErr error

	queue   *workqueue.Queue
	cron    *cron.Cron
	watcher *watcher
	stop    context.CancelFunc
}

// New returns a stopped service.
func New(opts Options) (*Service, error) {
	if opts.Cache == nil {
		return nil, errors.New("configrepo: a partial cache is required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = DirFetcher{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	s := &Service{
		opts:    opts,
		repos:   make(map[string]Repo, len(opts.Repos)),
		fetcher: opts.Fetcher,
		cache:   opts.Cache,
		logger:  opts.Logger.WithComponent("config-repo"),
		errs:    map[string]error{},
	}
	for _, r := range opts.Repos {
		if r.ID == "" {
			return nil, fmt.Errorf("configrepo: repo %q has no id", r.URL)
		}
		if _, dup := s.repos[r.ID]; dup {
			return nil, fmt.Errorf("configrepo: duplicate repo id %q", r.ID)
		}
		s.repos[r.ID] = r
	}
	if opts.Schedule != "" {
		s.cron = cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)))
		if _, err := s.cron.AddFunc(opts.Schedule, s.RefreshAll); err != nil {
			return nil, fmt.Errorf("configrepo: invalid schedule %q: %w", opts.Schedule, err)
		}
	}
	s.queue = workqueue.New(workqueue.Options{
		Name:    "config-repo",
		Workers: opts.Workers,
		Process: s.process,
		Logger:  opts.Logger,
	})
	return s, nil
}

// Start restores the cached partials, loads the configuration once and then
// keeps it current until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if err := s.cache.Restore(ctx); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Error("Initial configuration load failed", log.Err(err))
	}

	ctx, s.stop = context.WithCancel(ctx)
	s.queue.Start(ctx)
	if s.cron != nil {
		s.cron.Start()
	}
	if s.opts.Watch {
		w, err := newWatcher(s, s.logger)
		if err != nil {
			s.logger.Warn("File watching disabled", log.Err(err))
		} else {
			s.watcher = w
			go w.run(ctx)
		}
	}
	s.logger.Info("Config repository service started",
		log.Int("repos", len(s.repos)), log.Str("schedule", s.opts.Schedule), log.Bool("watch", s.opts.Watch))
	return nil
}

// Stop ends polling and watching and waits for running refreshes.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.watcher != nil {
		s.watcher.close()
	}
	if s.stop != nil {
		s.stop()
	}
	s.queue.Stop()
}

// Current returns the published configuration, or nil before the first
// successful load.
func (s *Service) Current() *State { return s.current.Load() }

// Failures returns the validation failures of the latest merge attempt.
func (s *Service) Failures() []merge.ValidationFailure {
	if f := s.failures.Load(); f != nil {
		return *f
	}
	return nil
}

// Repos returns the configured repositories ordered by id.
func (s *Service) Repos() []Repo {
	out := make([]Repo, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status reports the state of repo id.
func (s *Service) Status(id string) (RepoStatus, bool) {
	r, ok := s.repos[id]
	if !ok {
		return RepoStatus{}, false
	}
	st := RepoStatus{Repo: r}
	if snap, ok := s.cache.LastKnown(id); ok {
		st.LastKnownRevision = snap.Revision
	}
	if snap, ok := s.cache.LastValid(id); ok {
		st.LastValidRevision = snap.Revision
	}
	s.mu.RLock()
	st.Error = s.errs[id]
	s.mu.RUnlock()
	return st, true
}

// History returns the last known and last valid revisions recorded for
// repo id, newest first.
func (s *Service) History(ctx context.Context, id string) (known, valid []string, err error) {
	if _, ok := s.repos[id]; !ok {
		return nil, nil, fmt.Errorf("unknown config repo %q", id)
	}
	if known, err = s.cache.History(ctx, partial.KindLastKnown, id); err != nil {
		return nil, nil, err
	}
	if valid, err = s.cache.History(ctx, partial.KindLastValid, id); err != nil {
		return nil, nil, err
	}
	return known, valid, nil
}

// MainError returns the latest failure to read the main file.
func (s *Service) MainError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mainErr
}

// Refresh schedules a refresh of repo id.
func (s *Service) Refresh(id string) error {
	if _, ok := s.repos[id]; !ok {
		return fmt.Errorf("unknown config repo %q", id)
	}
	s.queue.Add(repoKeyPrefix + id)
	return nil
}

// ReloadMain schedules a rebuild after the main file changed.
func (s *Service) ReloadMain() { s.queue.Add(mainKey) }

// RefreshAll schedules a refresh of every repo.
func (s *Service) RefreshAll() {
	for id := range s.repos {
		s.queue.Add(repoKeyPrefix + id)
	}
}

// RefreshMatching schedules a refresh of the repos a push of branch to one of
// urls concerns, and returns how many were scheduled.
func (s *Service) RefreshMatching(_ context.Context, urls []string, branch string) (int, error) {
	n := 0
	for id, r := range s.repos {
		if r.Matches(urls, branch) {
			s.queue.Add(repoKeyPrefix + id)
			n++
		}
	}
	s.logger.Debug("Webhook matched config repos", log.Int("matched", n), log.Str("branch", branch))
	return n, nil
}

func (s *Service) process(ctx context.Context, key string) error {
	if key == mainKey {
		return s.rebuildLogged(ctx)
	}
	id := key[len(repoKeyPrefix):]
	changed, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.rebuildLogged(ctx)
}

// rebuildLogged rebuilds and logs an invalid configuration instead of
// returning it; retrying the same partials cannot fix it.
func (s *Service) rebuildLogged(ctx context.Context) error {
	err := s.rebuild(ctx)
	if errors.Is(err, ErrInvalidConfig) {
		s.logger.Error("Keeping the current configuration", log.Err(err))
		return nil
	}
	return err
}

// Reload fetches every repo and rebuilds the configuration.
func (s *Service) Reload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for id := range s.repos {
		id := id
		g.Go(func() error {
			// Fetch failures are recorded per repo and do not stop the
			// others.
			_, _ = s.fetch(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return s.rebuild(ctx)
}

// fetch reads repo id and records it in the cache. It reports whether a new
// revision was recorded. Only fetch failures are returned; a revision that
// does not parse is recorded as the repo error.
func (s *Service) fetch(ctx context.Context, id string) (bool, error) {
	repo, ok := s.repos[id]
	if !ok {
		return false, nil
	}
	rev, err := s.fetcher.Fetch(ctx, repo)
	if err != nil {
		s.opts.Metrics.ObserveFetch(id, metrics.FetchError)
		s.setRepoError(id, err)
		return false, fmt.Errorf("failed to fetch config repo %s: %w", id, err)
	}
	if known, ok := s.cache.LastKnown(id); ok && known.Revision == rev.ID {
		s.opts.Metrics.ObserveFetch(id, metrics.FetchUnchanged)
		s.setRepoError(id, nil)
		return false, nil
	}
	_, err = s.cache.Record(ctx, &partial.Snapshot{
		RepoID:   repo.ID,
		URL:      repo.URL,
		PluginID: repo.PluginID,
		Revision: rev.ID,
		Files:    rev.Files,
	})
	if err != nil {
		s.logger.Warn("Config repo revision does not parse",
			log.Repo(id), log.Revision(rev.ID), log.Err(err))
		s.opts.Metrics.ObserveFetch(id, metrics.FetchUnparsed)
		s.setRepoError(id, err)
		return false, nil
	}
	s.opts.Metrics.ObserveFetch(id, metrics.FetchChanged)
	s.setRepoError(id, nil)
	s.logger.Info("Fetched config repo revision", log.Repo(id), log.Revision(rev.ID))
	return true, nil
}

func (s *Service) setRepoError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, id)
		return
	}
	s.errs[id] = err
}

func (s *Service) loadMain() (*merge.PartialConfig, error) {
	var (
		p   *merge.PartialConfig
		err error
	)
	if s.opts.MainFile == "" {
		p = &merge.PartialConfig{Origin: merge.FileOrigin{}}
	} else {
		p, err = partial.LoadFile(s.opts.MainFile, merge.FileOrigin{Path: s.opts.MainFile})
	}
	s.mu.Lock()
	s.mainErr = err
	s.mu.Unlock()
	return p, err
}

type attempt struct {
	config    *merge.CruiseConfig
	failures  []merge.ValidationFailure
	revisions map[string]string
}

func (s *Service) merge(snapshots func() ([]*merge.PartialConfig, error)) (*attempt, error) {
	main, err := s.loadMain()
	if err != nil {
		return nil, err
	}
	partials, err := snapshots()
	if err != nil {
		return nil, err
	}
	cfg, err := merge.Merge(main, partials...)
	if err != nil {
		return nil, err
	}
	failures, err := cfg.Validate(s.opts.Validation)
	if err != nil {
		return nil, err
	}
	revisions := map[string]string{}
	for _, p := range partials {
		if o, ok := p.Origin.(merge.RepoOrigin); ok {
			revisions[o.Repo.ID] = o.Revision
		}
	}
	return &attempt{config: cfg, failures: failures, revisions: revisions}, nil
}

// rebuild merges the last known partials and publishes the result when it
// is valid. Otherwise it falls back to the last valid partials. When neither
// is valid the current configuration stays published.
func (s *Service) rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	latest, err := s.merge(s.cache.LastKnownPartials)
	if err == nil {
		s.failures.Store(&latest.failures)
		s.opts.Metrics.SetValidationFailures(len(latest.failures))
		if len(latest.failures) == 0 {
			for id, rev := range latest.revisions {
				if valid, ok := s.cache.LastValid(id); ok && valid.Revision == rev {
					continue
				}
				if err := s.cache.Promote(ctx, id); err != nil {
					return err
				}
			}
			s.publish(latest, false)
			return nil
		}
		for _, f := range latest.failures {
			s.logger.Warn("Configuration validation failed", log.Str("entity", f.Entity),
				log.Str("origin", f.Origin), log.Str("errors", f.Errors.String()))
		}
	} else {
		s.logger.Warn("Failed to merge latest partials", log.Err(err))
	}

	fallback, ferr := s.merge(s.cache.LastValidPartials)
	if ferr != nil {
		s.opts.Metrics.ObserveReload(metrics.ReloadInvalid, 0)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, ferr)
	}
	if len(fallback.failures) > 0 {
		s.opts.Metrics.ObserveReload(metrics.ReloadInvalid, 0)
		return fmt.Errorf("%w: %d entities fail validation", ErrInvalidConfig, len(fallback.failures))
	}
	if err != nil {
		failures := []merge.ValidationFailure{}
		s.failures.Store(&failures)
	}
	s.publish(fallback, true)
	return nil
}

func (s *Service) publish(a *attempt, fallback bool) {
	result := metrics.ReloadValid
	if fallback {
		result = metrics.ReloadFallback
	}
	s.opts.Metrics.ObserveReload(result, len(a.config.AllPipelines()))
	s.current.Store(&State{Config: a.config, Revisions: a.revisions, Fallback: fallback, LoadedAt: time.Now()})
	s.logger.Info("Published configuration",
		log.Int("pipelines", len(a.config.AllPipelines())),
		log.Int("partials", len(a.config.Partials())),
		log.Bool("fallback", fallback))
}

// Validate merges the main file with the latest partials without publishing
// anything.
func (s *Service) Validate() ([]merge.ValidationFailure, error) {
	a, err := s.merge(s.cache.LastKnownPartials)
	if err != nil {
		return nil, err
	}
	return a.failures, nil
}
