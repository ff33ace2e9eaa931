package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biasaudit/internal/bias"
	"biasaudit/internal/extract"
	"biasaudit/internal/metrics"
	"biasaudit/internal/model"
	"biasaudit/internal/quota"
	"biasaudit/internal/repository"
	"biasaudit/internal/storage"
)

const (
	maxFilenameLen   = 255
	defaultListLimit = 20
	maxListLimit     = 100
)

// ScanListResult is the service-level DTO for an owner's scans.
type ScanListResult struct {
	Items []model.ScanRecord `json:"data"`
	Total int                `json:"total"`
}

// Upload is an uploaded document awaiting extraction.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ScanService defines the scan use cases. Every method acts on behalf of owner.
type ScanService interface {
	// CreateFromText admits the scan against the owner's quota, scores text and stores the scan.
	CreateFromText(ctx context.Context, owner, filename, text string) (*model.ScanRecord, error)

	// CreateFromFile extracts text from an upload, archives the original when archiving is
	// enabled, then behaves like CreateFromText. The archive is removed if the scan is not stored.
	CreateFromFile(ctx context.Context, owner string, up Upload) (*model.ScanRecord, error)

	// List returns the owner's scans, newest first.
	List(ctx context.Context, owner string, limit, offset int) (*ScanListResult, error)

	// Get returns a scan owned by owner.
	Get(ctx context.Context, owner, id string) (*model.ScanRecord, error)

	// Analyze enriches a scan with the AI service. Analyzing an analyzed scan returns it unchanged.
	Analyze(ctx context.Context, owner, id string) (*model.ScanRecord, error)

	// Report returns the read-only report projection of a scan.
	Report(ctx context.Context, owner, id string) (*model.ReportView, error)

	// Usage returns the owner's quota status for the current period.
	Usage(ctx context.Context, owner string) (*quota.Status, error)
}

type scanService struct {
	repo      repository.ScanRepository
	quota     *quota.Manager
	orch      *Orchestrator
	extractor extract.Extractor
	archive   storage.Storage
	log       *zap.Logger
	metrics   *metrics.Pipeline
	now       func() time.Time
}

// Deps groups the collaborators of the scan service. Archive, Log and Metrics are optional.
type Deps struct {
	Repo         repository.ScanRepository
	Quota        *quota.Manager
	Orchestrator *Orchestrator
	Extractor    extract.Extractor
	Archive      storage.Storage
	Log          *zap.Logger
	Metrics      *metrics.Pipeline
}

// NewScanService constructs a ScanService.
func NewScanService(d Deps) ScanService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Extractor == nil {
		d.Extractor = extract.New()
	}
	return &scanService{
		repo:      d.Repo,
		quota:     d.Quota,
		orch:      d.Orchestrator,
		extractor: d.Extractor,
		archive:   d.Archive,
		log:       d.Log,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

func (s *scanService) CreateFromText(ctx context.Context, owner, filename, text string) (*model.ScanRecord, error) {
	filename, err := validateFilename(filename)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if !utf8.ValidString(text) {
		return nil, &ValidationError{Field: "text", Reason: "must be valid UTF-8"}
	}
	return s.create(ctx, owner, filename, text, nil)
}

func (s *scanService) CreateFromFile(ctx context.Context, owner string, up Upload) (*model.ScanRecord, error) {
	filename, err := validateFilename(up.Filename)
	if err != nil {
		return nil, err
	}

	text, err := s.extractor.Extract(up.Data, up.ContentType)
	switch {
	case errors.Is(err, extract.ErrUnsupportedType):
		return nil, errors.Join(ErrUnsupportedFileType, err)
	case err != nil:
		return nil, errors.Join(ErrExtraction, err)
	}

	var archive func(ctx context.Context, id string) (string, error)
	if s.archive != nil {
		archive = func(ctx context.Context, id string) (string, error) {
			key := storage.ScanKey(owner, id, filename)
			_, err := s.archive.Put(ctx, key, bytes.NewReader(up.Data), storage.PutObjectOptions{
				Size:        int64(len(up.Data)),
				ContentType: extract.Detect(up.Data, up.ContentType),
				Metadata:    map[string]string{"original-filename": filename},
			})
			if err != nil {
				return "", err
			}
			return key, nil
		}
	}
	return s.create(ctx, owner, filename, text, archive)
}

// create runs the Created -> Scored transition. Nothing is persisted unless quota admits the scan;
// if a later step fails the admission is released and the archived original removed.
func (s *scanService) create(ctx context.Context, owner, filename, text string, archive func(context.Context, string) (string, error)) (*model.ScanRecord, error) {
	if _, err := s.quota.Admit(ctx, owner); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			s.metrics.QuotaRejected(exceeded.Plan)
			s.log.Info("scan rejected by quota",
				zap.String("owner", owner), zap.String("plan", exceeded.Plan), zap.Int("limit", exceeded.Limit))
			return nil, err
		}
		return nil, persistenceError("admit scan", err)
	}

	rec := &model.ScanRecord{
		ID:         uuid.NewString(),
		Owner:      owner,
		Filename:   filename,
		RawText:    text,
		Heuristic:  bias.Score(text),
		Enrichment: model.HeuristicOnly{},
		CreatedAt:  s.now().UTC().Truncate(time.Microsecond),
	}

	if archive != nil {
		key, err := archive(ctx, rec.ID)
		if err != nil {
			s.releaseQuota(ctx, owner)
			return nil, persistenceError("archive original", err)
		}
		rec.StoragePath = key
	}

	stored, err := s.repo.Create(ctx, rec)
	if err != nil {
		s.releaseQuota(ctx, owner)
		if rec.StoragePath != "" {
			if delErr := s.archive.Delete(context.WithoutCancel(ctx), rec.StoragePath); delErr != nil {
				s.log.Error("rollback archived original",
					zap.String("key", rec.StoragePath), zap.Error(delErr))
			}
		}
		return nil, persistenceError("save scan", err)
	}

	s.metrics.ScanCreated(stored.Heuristic.Score)
	s.log.Info("scan created",
		zap.String("scan_id", stored.ID),
		zap.String("owner", owner),
		zap.Int("score", stored.Heuristic.Score),
		zap.String("risk_level", string(stored.Heuristic.RiskLevel)),
	)
	return stored, nil
}

func (s *scanService) releaseQuota(ctx context.Context, owner string) {
	if err := s.quota.Release(context.WithoutCancel(ctx), owner); err != nil {
		s.log.Error("release quota", zap.String("owner", owner), zap.Error(err))
	}
}

func (s *scanService) List(ctx context.Context, owner string, limit, offset int) (*ScanListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.ListByOwner(ctx, owner, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, persistenceError("list scans", err)
	}
	items := res.Items
	if items == nil {
		items = []model.ScanRecord{}
	}
	return &ScanListResult{Items: items, Total: res.Total}, nil
}

func (s *scanService) Get(ctx context.Context, owner, id string) (*model.ScanRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("load scan", err)
	}
	if rec.Owner != owner {
		return nil, ErrForbidden
	}
	return rec, nil
}

func (s *scanService) Analyze(ctx context.Context, owner, id string) (*model.ScanRecord, error) {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return s.orch.Enrich(ctx, rec)
}

func (s *scanService) Report(ctx context.Context, owner, id string) (*model.ReportView, error) {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	v := model.NewReportView(rec)
	return &v, nil
}

func (s *scanService) Usage(ctx context.Context, owner string) (*quota.Status, error) {
	st, err := s.quota.Status(ctx, owner)
	if err != nil {
		return nil, persistenceError("load usage", err)
	}
	return st, nil
}

func validateFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "filename", Reason: "is required"}
	}
	if utf8.RuneCountInString(name) > maxFilenameLen {
		return "", &ValidationError{Field: "filename", Reason: "is too long"}
	}
	if !utf8.ValidString(name) {
		return "", &ValidationError{Field: "filename", Reason: "must be valid UTF-8"}
	}
	return name, nil
}
