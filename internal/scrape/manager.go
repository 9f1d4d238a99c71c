// Package scrape implements the traversal engine and the dual-queue
// persistence pipeline. Traversal tasks walk the site concurrently and
// emit entities onto two queues; a single consumer drains every user
// before any content so registered authors always exist in the store
// when the content referencing them arrives.
package scrape

import (
	"context"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/database"
	"github.com/nrsyed/proboards-scraper/internal/fetch"
	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/metrics"
	"github.com/nrsyed/proboards-scraper/internal/queue"
	"github.com/nrsyed/proboards-scraper/internal/storage"
)

// Fetcher retrieves pages and raw image bytes. Satisfied by
// fetch.Session; tests substitute a stub serving synthetic documents.
type Fetcher interface {
	Get(ctx context.Context, url string) (*goquery.Document, error)
	Download(ctx context.Context, url string) ([]byte, int, error)
}

// Config assembles a Manager's collaborators.
type Config struct {
	Fetcher  Fetcher
	Renderer fetch.Renderer
	DB       *database.DB
	Images   storage.BlobStore
	// Mirror optionally duplicates the image archive to a second store
	// (a GCS bucket). Mirror failures are logged, never fatal.
	Mirror storage.BlobStore
	Logger *zap.Logger
	// UserWorkers bounds the profile-scrape fan-out.
	UserWorkers int
	// WithUserQueue must be set when a users task will run; the consumer
	// only enters the user-draining state if the queue exists.
	WithUserQueue bool
}

// Manager owns both queues, the store handle, and the fetch/render
// resources for one scrape run.
type Manager struct {
	fetcher  Fetcher
	renderer fetch.Renderer
	db       *database.DB
	images   storage.BlobStore
	mirror   storage.BlobStore
	logger   *zap.Logger

	userQueue    *queue.Queue
	contentQueue *queue.Queue
	userWorkers  int
	runID        string
}

// New builds a Manager. The user queue is created only when requested;
// its absence tells Run to skip straight to content draining.
func New(cfg Config) *Manager {
	metrics.Init()

	if cfg.Renderer == nil {
		cfg.Renderer = fetch.NopRenderer{}
	}
	if cfg.UserWorkers <= 0 {
		cfg.UserWorkers = 8
	}

	m := &Manager{
		fetcher:      cfg.Fetcher,
		renderer:     cfg.Renderer,
		db:           cfg.DB,
		images:       cfg.Images,
		mirror:       cfg.Mirror,
		logger:       cfg.Logger,
		contentQueue: queue.New(),
		userWorkers:  cfg.UserWorkers,
		runID:        uuid.NewString(),
	}
	if cfg.WithUserQueue {
		m.userQueue = queue.New()
	}
	return m
}

// RunID identifies this scrape run in the scrape_run provenance table.
func (m *Manager) RunID() string { return m.runID }

// RecordRun stores the provenance row for this run.
func (m *Manager) RecordRun(url string) error {
	return m.db.RecordRun(m.runID, url)
}

// Signal names the queue(s) a finished producer task must close with a
// sentinel. A task that is the only producer for both queues signals
// both so the consumer can finish.
type Signal int

// Sentinel placement choices.
const (
	SignalUsers Signal = iota
	SignalContent
	SignalBoth
)

// RunTask runs one producer task and places the end-of-stream sentinels
// it is responsible for. Task errors are logged, not returned: the
// sentinels must flow regardless so the consumer terminates.
func (m *Manager) RunTask(ctx context.Context, signal Signal, task func(context.Context) error) {
	if err := task(ctx); err != nil {
		metrics.ObserveError("traversal")
		m.logger.Error("scrape task failed", zap.Error(err))
	}

	if signal == SignalUsers || signal == SignalBoth {
		m.userQueue.Put(nil)
	}
	if signal == SignalContent || signal == SignalBoth {
		m.contentQueue.Put(nil)
	}
}

// Run is the persistence consumer: drain the user queue to its sentinel
// (when a users task was requested), then the content queue, then
// release the renderer and log a row-count summary.
func (m *Manager) Run(ctx context.Context) error {
	defer m.renderer.Close()

	if m.userQueue != nil {
		for {
			item, err := m.userQueue.Get(ctx)
			if err != nil {
				return err
			}
			if item == nil {
				break
			}
			m.persist(ctx, item)
			metrics.SetQueueDepth("user", m.userQueue.Len())
		}
		m.logger.Info("all users persisted")
	}

	for {
		item, err := m.contentQueue.Get(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			break
		}
		m.persist(ctx, item)
		metrics.SetQueueDepth("content", m.contentQueue.Len())
	}

	counts, err := m.db.Counts()
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	fields := make([]zap.Field, 0, len(tables))
	for _, table := range tables {
		fields = append(fields, zap.Int(table, counts[table]))
	}
	m.logger.Info("scrape complete", fields...)
	return nil
}

// persist dispatches one queue item to its upsert. Per-item failures
// are logged and dropped; they never stop the consumer.
func (m *Manager) persist(ctx context.Context, item forum.Item) {
	var (
		status database.Status
		err    error
	)
	switch v := item.(type) {
	case *forum.User:
		status, err = m.db.UpsertUser(v)
	case *forum.Category:
		status, err = m.db.UpsertCategory(v)
	case *forum.Board:
		status, err = m.db.UpsertBoard(v)
	case *forum.Moderator:
		status, err = m.db.UpsertModerator(v)
	case *forum.Thread:
		status, err = m.db.UpsertThread(v)
	case *forum.Post:
		status, err = m.db.UpsertPost(v)
	case *forum.Poll:
		status, err = m.db.UpsertPoll(v)
	case *forum.PollOption:
		status, err = m.db.UpsertPollOption(v)
	case *forum.PollVoter:
		status, err = m.db.UpsertPollVoter(v)
	case *forum.ShoutboxPost:
		status, err = m.db.UpsertShoutboxPost(v)
	case *forum.Avatar:
		status, err = m.db.UpsertAvatar(v)
	case *forum.Image:
		// Queued images carry only a URL; the download, blob write, and
		// metadata upsert all happen here on the consumer.
		if _, derr := m.processImage(ctx, v.URL); derr != nil {
			metrics.ObserveError("image")
			m.logger.Warn("image processing failed",
				zap.String("url", v.URL), zap.Error(derr))
		}
		return
	default:
		m.logger.Error("unhandled queue item",
			zap.String("type", string(item.Type())))
		return
	}

	if err != nil {
		metrics.ObserveError("persist")
		m.logger.Error("failed to persist item",
			zap.String("type", string(item.Type())),
			zap.String("item", item.Label()),
			zap.Error(err))
		return
	}
	metrics.ObserveItem(string(item.Type()), string(status))
}
