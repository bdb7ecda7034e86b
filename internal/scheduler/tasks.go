// Package scheduler runs the daily audit batch of every site.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/shyim/perfaudit/internal/aggregate"
	"github.com/shyim/perfaudit/internal/catalog"
	"github.com/shyim/perfaudit/internal/config"
	"github.com/shyim/perfaudit/internal/flags"
	"github.com/shyim/perfaudit/internal/lighthouse"
	"github.com/shyim/perfaudit/internal/logging"
	"github.com/shyim/perfaudit/internal/results"
	"github.com/shyim/perfaudit/internal/telemetry"
	"github.com/shyim/perfaudit/internal/urls"
)

var tracer = otel.Tracer("github.com/shyim/perfaudit/internal/scheduler")

// Auditor runs a single Lighthouse audit.
type Auditor interface {
	Audit(ctx context.Context, req lighthouse.Request) ([]byte, error)
}

// Repository is the relational side of a batch.
type Repository interface {
	ResolveActionIDs(ctx context.Context, hashes []string) (map[string]int64, error)
	InsertPerformance(ctx context.Context, rows []aggregate.Row) (int64, error)
}

// Sites yields the settings of every configured site.
type Sites interface {
	Site(siteID int) config.Settings
	SiteIDs() []int
}

type Options struct {
	URLWindow     time.Duration
	JitterMin     time.Duration
	JitterMax     time.Duration
	Subdomain     string
	Archive       bool
	Location      *time.Location
	AuditInterval time.Duration
	FlagSweep     time.Duration
}

// Option customizes Tasks.
type Option func(*Tasks)

func WithClock(now func() time.Time) Option { return func(t *Tasks) { t.now = now } }

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tasks) { t.sleep = sleep }
}

func WithJitter(jitter func(lo, hi time.Duration) time.Duration) Option {
	return func(t *Tasks) { t.jitter = jitter }
}

func WithGC(gc func()) Option { return func(t *Tasks) { t.gc = gc } }

// WithUploader enables archive uploads of raw reports before they are removed.
func WithUploader(up results.Uploader) Option { return func(t *Tasks) { t.uploader = up } }

type Tasks struct {
	flags    flags.Store
	source   urls.Source
	repo     Repository
	results  results.Store
	uploader results.Uploader
	auditor  Auditor
	sites    Sites
	opts     Options
	logger   zerolog.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
	gc     func()

	group  singleflight.Group
	audits metric.Int64Counter
	stored metric.Int64Counter
}

func New(
	flagStore flags.Store,
	source urls.Source,
	repo Repository,
	store results.Store,
	auditor Auditor,
	sites Sites,
	opts Options,
	logger zerolog.Logger,
	options ...Option,
) *Tasks {
	if opts.URLWindow <= 0 {
		opts.URLWindow = 30 * 24 * time.Hour
	}
	if opts.JitterMin <= 0 && opts.JitterMax <= 0 {
		opts.JitterMin, opts.JitterMax = time.Second, 5*time.Second
	}
	if opts.Subdomain == "" {
		opts.Subdomain = urls.DefaultSubdomain
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.AuditInterval <= 0 {
		opts.AuditInterval = 24 * time.Hour
	}
	if opts.FlagSweep <= 0 {
		opts.FlagSweep = 7 * 24 * time.Hour
	}

	t := &Tasks{
		flags:   flagStore,
		source:  source,
		repo:    repo,
		results: store,
		auditor: auditor,
		sites:   sites,
		opts:    opts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
		sleep:   sleepContext,
		jitter:  randomDuration,
		gc:      runtime.GC,
	}
	for _, o := range options {
		o(t)
	}

	meter := telemetry.Meter("github.com/shyim/perfaudit/internal/scheduler")
	t.audits, _ = meter.Int64Counter("perfaudit.audits", metric.WithDescription("Lighthouse audits by outcome"))
	t.stored, _ = meter.Int64Counter("perfaudit.rows_stored", metric.WithDescription("Aggregate rows written"))
	return t
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Report summarizes one site batch.
type Report struct {
	SiteID      int      `json:"siteId"`
	Debug       bool     `json:"debug"`
	Skipped     string   `json:"skipped,omitempty"`
	Audits      int      `json:"audits"`
	Failures    int      `json:"failures"`
	RowsStored  int64    `json:"rowsStored"`
	Error       string   `json:"error,omitempty"`
	HasProblems bool     `json:"hasErrorInOutput"`
	Lines       []string `json:"logOutput,omitempty"`
}

// AuditSite runs the batch of one site. Concurrent calls for the same site
// and mode share one execution. Outside debug mode the batch is guarded by
// the running and last-run flags; debug mode audits a single URL once,
// never touches flags and never writes aggregates.
func (t *Tasks) AuditSite(ctx context.Context, siteID int, debug bool) (*Report, error) {
	key := fmt.Sprintf("site:%d", siteID)
	if debug {
		key += ":debug"
	}
	v, err, _ := t.group.Do(key, func() (any, error) {
		return t.auditSite(ctx, siteID, debug)
	})
	if v == nil {
		return nil, err
	}
	return v.(*Report), err
}

func (t *Tasks) auditSite(ctx context.Context, siteID int, debug bool) (report *Report, err error) {
	ctx, span := tracer.Start(ctx, "scheduler.audit_site", trace.WithAttributes(
		attribute.Int("site.id", siteID),
		attribute.Bool("audit.debug", debug),
	))
	defer span.End()

	logger := t.logger.With().Int("site", siteID).Str("batch", uuid.NewString()).Logger()
	report = &Report{SiteID: siteID, Debug: debug}

	var rec *logging.Recorder
	if debug {
		rec = logging.NewRecorder()
		logger = rec.Attach(logger)
		logger.Debug().Msg("Debug mode enabled")
		defer func() {
			report.Lines = rec.Lines()
			report.HasProblems = rec.HasProblems()
		}()
	} else {
		if err := t.sleep(ctx, t.jitter(t.opts.JitterMin, t.opts.JitterMax)); err != nil {
			return report, err
		}
	}

	now := t.now().In(t.opts.Location)

	if !debug {
		running, err := flags.IsRunning(ctx, t.flags)
		if err != nil {
			return report, errors.Wrap(err, "check running flag")
		}
		if running {
			logger.Info().Msg("A Performance Audit task is currently already running")
			report.Skipped = "running"
			return report, nil
		}
		started, err := flags.StartedToday(ctx, t.flags, siteID, now)
		if err != nil {
			return report, errors.Wrapf(err, "check last run of site %d", siteID)
		}
		if started {
			logger.Info().Msgf("Performance Audit task for site %d has been already started today", siteID)
			report.Skipped = "started today"
			return report, nil
		}
	}

	settings := t.sites.Site(siteID)
	if !settings.Enabled && !debug {
		logger.Info().Msgf("Performance Audit task for site %d will be skipped due to setting which disables it for this site", siteID)
		report.Skipped = "disabled"
		return report, nil
	}

	candidates, err := urls.Candidates(ctx, t.source, siteID, now, t.opts.URLWindow)
	if err != nil {
		logger.Error().Err(err).Msg(err.Error())
		return report, err
	}
	if len(candidates) == 0 {
		logger.Warn().Msgf("Performance Audit task for site %d has no URLs to check", siteID)
		report.Skipped = "no urls"
		return report, nil
	}

	logger.Info().Msgf("Performance Audit task for site %d will be started now", siteID)

	if !debug {
		defer func() {
			logger.Debug().Msg("Mark task as finished now")
			if _, err := flags.MarkFinished(context.WithoutCancel(ctx), t.flags); err != nil {
				logger.Error().Err(err).Msg("Failed to clear the running flag")
			}
		}()
	}

	if batchErr := t.runBatch(ctx, logger, settings, candidates, now, debug, report); batchErr != nil {
		logger.Error().Err(batchErr).Msg(batchErr.Error())
		report.Error = batchErr.Error()
		span.SetStatus(codes.Error, batchErr.Error())
		telemetry.CaptureError(batchErr, map[string]string{"site": fmt.Sprint(siteID)})
	}

	t.gc()
	logger.Info().Msgf("Performance Audit task for site %d has finished", siteID)
	return report, nil
}

func (t *Tasks) runBatch(ctx context.Context, logger zerolog.Logger, settings config.Settings, candidates []string, now time.Time, debug bool, report *Report) error {
	siteID := settings.SiteID

	if !debug {
		logger.Debug().Msg("Mark task as running now")
		if err := flags.MarkRunning(ctx, t.flags); err != nil {
			return errors.Wrap(err, "mark task as running")
		}
		logger.Debug().Msgf("Mark task for site %d as started today", siteID)
		if err := flags.MarkStartedToday(ctx, t.flags, siteID, now); err != nil {
			return errors.Wrap(err, "mark task as started today")
		}
	}

	runs := settings.Runs()
	devices := settings.Devices.Devices()

	if settings.GroupedURLs {
		candidates = urls.GroupByPath(candidates)
	}
	if debug {
		candidates = candidates[:1]
		runs = []int{1}
	}

	if err := t.performAudits(ctx, logger, settings, candidates, devices, runs, debug, report); err != nil {
		return err
	}

	keys, err := t.results.List(ctx, siteID, debug)
	if err != nil {
		return errors.Wrap(err, "list audit results")
	}
	logger.Debug().Msgf("Audit file count: %d", len(keys))
	if len(keys) == 0 {
		return nil
	}

	result := t.processResults(ctx, logger, keys)
	if err := t.storeResults(ctx, logger, siteID, result, now, debug, report); err != nil {
		return err
	}

	if t.opts.Archive && t.uploader != nil && !debug {
		objectKey, err := results.ArchiveAndUpload(ctx, t.results, t.uploader, siteID, now, keys)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to archive audit results")
		} else {
			logger.Debug().Msgf("Archived audit results to %s", objectKey)
		}
	}

	for _, k := range keys {
		if err := t.results.Delete(ctx, k); err != nil {
			return errors.Wrap(err, "remove audit results")
		}
	}
	return nil
}

func (t *Tasks) performAudits(ctx context.Context, logger zerolog.Logger, settings config.Settings, candidates []string, devices []catalog.Device, runs []int, debug bool, report *Report) error {
	logger.Debug().
		Strs("urls", candidates).
		Int("url_count", len(candidates)).
		Ints("runs", runs).
		Msg("Performing audits")

	for _, u := range candidates {
		hash := urls.Hash(u, t.opts.Subdomain)
		for _, device := range devices {
			for _, run := range runs {
				if err := ctx.Err(); err != nil {
					return errors.Wrap(err, "audit batch interrupted")
				}

				logger.Info().Msgf("Performing scheduled audit [%d/%d] of site %d (device: %s) for URL: %s", run, len(runs), settings.SiteID, device, u)

				data, err := t.auditor.Audit(ctx, lighthouse.Request{
					URL:             u,
					Device:          device,
					ExtendedTimeout: settings.ExtendedTimeout,
					Headers:         settings.Headers(),
				})
				if err != nil {
					report.Failures++
					t.logAuditError(ctx, logger, err)
					t.gc()
					continue
				}

				key := results.Key{Site: settings.SiteID, Device: device, URLHash: hash, Run: run, Debug: debug}
				if err := t.results.Put(ctx, key, data); err != nil {
					report.Failures++
					t.audits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "store_failed")))
					logger.Error().Err(err).Msg(err.Error())
					t.gc()
					continue
				}

				report.Audits++
				t.audits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
				t.gc()
			}
		}
	}
	return nil
}

func (t *Tasks) logAuditError(ctx context.Context, logger zerolog.Logger, err error) {
	var auditErr *lighthouse.AuditError
	if errors.As(err, &auditErr) {
		t.audits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", auditErr.Kind.String())))
		if auditErr.Transient() {
			logger.Warn().Msg(auditErr.Error())
			return
		}
		logger.Error().Msg(auditErr.Error())
		return
	}
	t.audits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
	logger.Error().Err(err).Msg(err.Error())
}

func (t *Tasks) processResults(ctx context.Context, logger zerolog.Logger, keys []results.Key) aggregate.Result {
	coll := aggregate.NewCollection()
	for _, k := range keys {
		data, err := t.results.Get(ctx, k)
		if err != nil {
			logger.Warn().Err(err).Msgf("Skipping unreadable audit result %s", k.Name())
			continue
		}
		values, err := aggregate.Parse(data)
		if err != nil {
			logger.Debug().Err(err).Msgf("Skipping audit result %s", k.Name())
			continue
		}
		coll.Add(k.Site, k.URLHash, k.Device, values)
	}

	if coll.Len() == 0 {
		logger.Warn().Msg("Audit files result is empty!")
		return aggregate.Result{}
	}
	return coll.Reduce()
}

func (t *Tasks) storeResults(ctx context.Context, logger zerolog.Logger, siteID int, result aggregate.Result, now time.Time, debug bool, report *Report) error {
	hashes := result.Hashes(siteID)
	if len(hashes) == 0 {
		logger.Warn().Msg("Results for database storage is either empty or site results is not available")
		return nil
	}

	lookup, err := t.repo.ResolveActionIDs(ctx, hashes)
	if err != nil {
		return errors.Wrap(err, "resolve action ids")
	}
	rows, missing := result.Rows(siteID, lookup, flags.Midnight(now))

	if debug {
		logger.Info().Msg("Skipping database storing of results")
		return nil
	}

	for _, hash := range missing {
		logger.Warn().Msgf("Entry for the following hashed URL in lookup table is missing: %s", hash)
	}

	n, err := t.repo.InsertPerformance(ctx, rows)
	if err != nil {
		return errors.Wrap(err, "store results")
	}
	report.RowsStored = n
	t.stored.Add(ctx, n)
	logger.Debug().Msgf("Stored %d entries in database", n)
	return nil
}

// ClearTaskRunningFlag removes the running flag and reports whether it
// was set.
func (t *Tasks) ClearTaskRunningFlag(ctx context.Context) (bool, error) {
	existed, err := flags.MarkFinished(ctx, t.flags)
	if err != nil {
		return false, errors.Wrap(err, "clear running flag")
	}
	if existed {
		t.logger.Info().Msg("Cleared the Performance Audit task running flag")
	} else {
		t.logger.Info().Msg("No Performance Audit task running flag was set")
	}
	return existed, nil
}

// AuditAllSites runs the batch of every configured site in order.
func (t *Tasks) AuditAllSites(ctx context.Context, debug bool) []*Report {
	var reports []*Report
	for _, id := range t.sites.SiteIDs() {
		if ctx.Err() != nil {
			break
		}
		report, err := t.AuditSite(ctx, id, debug)
		if err != nil {
			t.logger.Error().Err(err).Int("site", id).Msg("Performance Audit task failed")
			if report == nil {
				report = &Report{SiteID: id, Debug: debug}
			}
			report.Error = err.Error()
		}
		reports = append(reports, report)
	}
	return reports
}

// Start runs the daily batch of every site and the weekly flag sweep until
// ctx is cancelled.
func (t *Tasks) Start(ctx context.Context) {
	t.logger.Info().
		Dur("audit_interval", t.opts.AuditInterval).
		Dur("flag_sweep", t.opts.FlagSweep).
		Msg("Performance Audit scheduler started")

	audit := time.NewTicker(t.opts.AuditInterval)
	defer audit.Stop()
	sweep := time.NewTicker(t.opts.FlagSweep)
	defer sweep.Stop()

	t.AuditAllSites(ctx, false)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Performance Audit scheduler stopped")
			return
		case <-audit.C:
			t.AuditAllSites(ctx, false)
		case <-sweep.C:
			if _, err := t.ClearTaskRunningFlag(ctx); err != nil {
				t.logger.Error().Err(err).Msg("Weekly flag sweep failed")
			}
		}
	}
}
