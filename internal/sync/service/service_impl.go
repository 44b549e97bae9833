package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector"
	connectordomain "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/internal/observability/tracing"
	"github.com/smallbiznis/fiscalsync/internal/storage"
	"github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"github.com/smallbiznis/fiscalsync/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultSyncTimeout = 2 * time.Minute

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Repo         domain.Repository
	Companies    companydomain.Repository
	Documents    docdomain.Repository
	Certificates certdomain.Service
	Store        storage.ContentStore
	Connectors   *connector.Registry
	Audit        auditdomain.Service `optional:"true"`
	Metrics      *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	companies    companydomain.Repository
	documents    docdomain.Repository
	certificates certdomain.Service
	store        storage.ContentStore
	connectors   *connector.Registry
	audit        auditdomain.Service
	metrics      *metrics.Metrics
	runMetrics   *metrics.SyncMetrics
	tracer       trace.Tracer
	timeout      time.Duration
}

func New(p Params) domain.Service {
	timeout := p.Cfg.Sync.Timeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("sync.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		companies:    p.Companies,
		documents:    p.Documents,
		certificates: p.Certificates,
		store:        p.Store,
		connectors:   p.Connectors,
		audit:        p.Audit,
		metrics:      p.Metrics,
		runMetrics:   metrics.Sync(),
		tracer:       otel.Tracer("fiscalsync/sync"),
		timeout:      timeout,
	}
}

// Trigger runs one pass of the cursor protocol. Preconditions (company,
// certificate, connector) are checked before the run row exists; from then
// on every exit finalizes the row.
func (s *Service) Trigger(ctx context.Context, req domain.TriggerRequest) (domain.SyncRun, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.SyncRun{}, domain.ErrInvalidAccount
	}
	scope, ok := docdomain.ParseCategory(req.Scope)
	if !ok {
		return domain.SyncRun{}, domain.ErrInvalidScope
	}
	companyID, err := snowflake.ParseString(strings.TrimSpace(req.CompanyID))
	if err != nil || companyID <= 0 {
		return domain.SyncRun{}, domain.ErrInvalidCompany
	}

	company, err := s.companies.FindByID(ctx, s.db, accountID, companyID)
	if err != nil {
		return domain.SyncRun{}, err
	}
	if company == nil {
		return domain.SyncRun{}, domain.ErrCompanyNotFound
	}
	if !company.IsActive() {
		return domain.SyncRun{}, domain.ErrCompanyInactive
	}

	cert, err := s.activeCertificate(ctx, company.ID)
	if err != nil {
		return domain.SyncRun{}, err
	}
	conn, err := s.connectors.Open(scope)
	if err != nil {
		return domain.SyncRun{}, err
	}

	cursorStart, err := s.repo.LastCompletedCursor(ctx, s.db, company.ID, scope)
	if err != nil {
		return domain.SyncRun{}, err
	}

	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	run := domain.SyncRun{
		ID:            s.genID.Generate(),
		AccountID:     accountID,
		CompanyID:     company.ID,
		Scope:         scope,
		Status:        domain.StatusRunning,
		NSUStart:      cursorStart,
		UltNSU:        cursorStart,
		CorrelationID: correlationID,
		StartedAt:     s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, &run); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.SyncRun{}, domain.ErrSyncInProgress
		}
		return domain.SyncRun{}, err
	}

	return s.execute(ctx, run, *company, cert, conn)
}

func (s *Service) execute(ctx context.Context, run domain.SyncRun, company companydomain.Company, cert certdomain.Certificate, conn connectordomain.Connector) (domain.SyncRun, error) {
	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("sync.run_id", run.ID.String()),
		attribute.String("sync.scope", string(run.Scope)),
		attribute.String("company.id", company.ID.String()),
		attribute.String("connector", conn.Name()),
		attribute.Int64("sync.nsu_start", run.NSUStart),
	)...))
	defer span.End()

	log := s.log.With(correlation.Fields(ctx)...).With(
		zap.String("sync_run_id", run.ID.String()),
		zap.String("company_id", company.ID.String()),
		zap.String("scope", string(run.Scope)),
		zap.String("connector", conn.Name()),
	)
	log.Info("sync run started", zap.Int64("nsu_start", run.NSUStart))

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	cursorEnd, cause := s.pull(runCtx, log, &run, company, cert, conn)
	cancel()

	// The row must leave running even when the caller has gone away.
	finalCtx := context.WithoutCancel(ctx)
	finished := s.clock.Now().UTC()
	run.FinishedAt = &finished
	if cause == nil {
		run.Status = domain.StatusCompleted
		run.UltNSU = cursorEnd
		run.ErrorSummary = nil
	} else {
		cause = fiscalerr.As(cause)
		run.Status = domain.StatusFailed
		run.UltNSU = run.NSUStart
		run.ErrorSummary = datatypes.JSONMap(fiscalerr.Summary(cause))
	}

	ok, err := s.repo.Finish(finalCtx, s.db, &run)
	if err != nil {
		log.Error("finalize sync run", zap.Error(err))
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "finalize failed")
		return run, err
	}
	if !ok {
		log.Warn("sync run was finalized by recovery before it finished")
		span.SetStatus(codes.Error, domain.ErrRunAbandoned.Code)
		return run, domain.ErrRunAbandoned
	}

	s.runMetrics.ObserveRun(string(run.Scope), string(run.Status), run.Duration(), run.DocsSaved)
	if run.Status == domain.StatusCompleted {
		s.runMetrics.SetCursor(string(run.Scope), run.UltNSU)
	}
	s.recordAudit(finalCtx, run)
	span.SetAttributes(
		attribute.Int64("sync.ult_nsu", run.UltNSU),
		attribute.Int("sync.docs_saved", run.DocsSaved),
		attribute.Int("sync.events_saved", run.EventsSaved),
	)

	if cause != nil {
		span.RecordError(tracing.SafeError(cause))
		span.SetStatus(codes.Error, string(fiscalerr.CategoryOf(cause)))
		log.Warn("sync run failed",
			zap.String("category", string(fiscalerr.CategoryOf(cause))),
			zap.Int("docs_saved", run.DocsSaved),
			zap.Error(cause),
		)
		return run, cause
	}

	log.Info("sync run completed",
		zap.Int64("ult_nsu", run.UltNSU),
		zap.Int("docs_found", run.DocsFound),
		zap.Int("docs_saved", run.DocsSaved),
		zap.Int("events_saved", run.EventsSaved),
		zap.Int("items_skipped", run.ItemsSkipped),
	)
	return run, nil
}

// pull connects, syncs and persists. The returned cursor is only applied
// to the run when no error occurred.
func (s *Service) pull(ctx context.Context, log *zap.Logger, run *domain.SyncRun, company companydomain.Company, cert certdomain.Certificate, conn connectordomain.Connector) (int64, error) {
	material, err := s.certificates.OpenCredential(ctx, company.ID, cert.Class)
	if err != nil {
		return run.NSUStart, err
	}
	if err := conn.Connect(ctx, cert, material); err != nil {
		return run.NSUStart, err
	}

	ref := connectordomain.Company{
		ID:        company.ID,
		AccountID: company.AccountID,
		CNPJ:      company.CNPJ,
		UF:        company.UF,
	}
	result, err := conn.Sync(ctx, ref, run.NSUStart)
	if err != nil {
		return run.NSUStart, err
	}

	// Batches may arrive out of order; the true maximum is computed here.
	cursor := max(run.NSUStart, result.CursorEnd)
	run.DocsFound = len(result.Documents)

	for _, item := range result.Documents {
		if err := ctx.Err(); err != nil {
			return run.NSUStart, err
		}
		saved, err := s.saveDocument(ctx, run, company, item)
		if err != nil {
			return run.NSUStart, err
		}
		if saved {
			run.DocsSaved++
		}
		cursor = max(cursor, item.Cursor)
	}

	orphans := 0
	for _, item := range result.Events {
		if err := ctx.Err(); err != nil {
			return run.NSUStart, err
		}
		saved, err := s.saveEvent(ctx, log, run, item)
		switch {
		case errors.Is(err, errUnknownDocument):
			orphans++
		case err != nil:
			return run.NSUStart, err
		case saved:
			run.EventsSaved++
		}
		cursor = max(cursor, item.Cursor)
	}

	run.ItemsSkipped = len(result.Errors) + orphans
	if len(result.Errors) > 0 {
		s.runMetrics.AddSkipped(string(run.Scope), metrics.SkipUndecodable, len(result.Errors))
		log.Warn("connector skipped unreadable items", zap.Int("count", len(result.Errors)), zap.Strings("errors", result.Errors))
	}
	if orphans > 0 {
		s.runMetrics.AddSkipped(string(run.Scope), metrics.SkipOrphanEvent, orphans)
		log.Warn("events for unknown documents skipped", zap.Int("count", orphans))
	}
	return cursor, nil
}

func (s *Service) saveDocument(ctx context.Context, run *domain.SyncRun, company companydomain.Company, item connectordomain.DocumentFields) (bool, error) {
	category := item.Category
	if category == "" {
		category = run.Scope
	}
	doc := docdomain.FiscalDocument{
		ID:            s.genID.Generate(),
		AccountID:     run.AccountID,
		CompanyID:     company.ID,
		SyncRunID:     &run.ID,
		Category:      category,
		Direction:     direction(item.IssuerCNPJ, company.CNPJ),
		Number:        item.Number,
		Series:        item.Series,
		IssueDate:     item.IssuedAt.UTC(),
		IssuerCNPJ:    identifier.NormalizeCNPJ(item.IssuerCNPJ),
		IssuerName:    item.IssuerName,
		RecipientCNPJ: identifier.NormalizeCNPJ(item.RecipientCNPJ),
		RecipientName: item.RecipientName,
		TotalValue:    item.Total,
		Status:        item.Status,
		NSU:           item.Cursor,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if doc.Status == "" {
		doc.Status = docdomain.StatusAuthorized
	}

	switch {
	case item.AccessKey != "":
		exists, err := s.documents.ExistsByAccessKey(ctx, s.db, item.AccessKey)
		if err != nil || exists {
			return false, err
		}
		key := item.AccessKey
		doc.AccessKey = &key
	case item.ExternalID != "":
		ext := item.ExternalID
		doc.ExternalID = &ext
	default:
		return false, connectordomain.ErrMalformedResponse
	}

	if len(item.Content) > 0 {
		path := storage.DocumentKey(run.AccountID, company.ID.String(), string(category), doc.Reference())
		if err := s.store.Put(ctx, path, bytes.NewReader(item.Content), int64(len(item.Content))); err != nil {
			return false, err
		}
		sum := sha256.Sum256(item.Content)
		doc.StorageXMLPath = path
		doc.HashSHA256 = hex.EncodeToString(sum[:])
	}

	inserted, err := s.documents.InsertDocument(ctx, s.db, &doc)
	if err != nil || !inserted {
		return false, err
	}
	s.metrics.RecordDocumentIngested(ctx, string(doc.Category), string(doc.Direction))
	return true, nil
}

// errUnknownDocument marks an event whose document has not been retrieved.
var errUnknownDocument = errors.New("event_document_unknown")

func (s *Service) saveEvent(ctx context.Context, log *zap.Logger, run *domain.SyncRun, item connectordomain.EventFields) (bool, error) {
	doc, err := s.documents.FindByAccessKey(ctx, s.db, item.AccessKey)
	if err != nil {
		return false, err
	}
	if doc == nil {
		log.Debug("event for unknown document skipped", zap.String("access_key", item.AccessKey), zap.String("code", item.Code))
		return false, errUnknownDocument
	}

	eventType := item.Type
	if eventType == "" {
		if known, ok := docdomain.EventTypeForCode(item.Code); ok {
			eventType = known
		} else {
			eventType = docdomain.EventType("evento_" + item.Code)
		}
	}
	event := docdomain.FiscalEvent{
		ID:               s.genID.Generate(),
		FiscalDocumentID: doc.ID,
		EventType:        eventType,
		EventCode:        item.Code,
		EventDate:        item.OccurredAt.UTC(),
		Protocol:         item.Protocol,
		Sequence:         item.Sequence,
		Description:      item.Description,
		NSU:              item.Cursor,
		CreatedAt:        s.clock.Now().UTC(),
	}
	if len(item.Content) > 0 {
		path := storage.EventKey(run.AccountID, run.CompanyID.String(), item.AccessKey, item.Code, item.Sequence)
		if err := s.store.Put(ctx, path, bytes.NewReader(item.Content), int64(len(item.Content))); err != nil {
			return false, err
		}
		event.StorageXMLPath = path
	}

	inserted, err := s.documents.InsertEvent(ctx, s.db, &event)
	if err != nil || !inserted {
		return false, err
	}
	s.metrics.RecordEventIngested(ctx, string(eventType))
	return true, nil
}

// activeCertificate prefers A1 and falls back to a paired A3 token.
func (s *Service) activeCertificate(ctx context.Context, companyID snowflake.ID) (certdomain.Certificate, error) {
	now := s.clock.Now().UTC()
	for _, class := range []certdomain.Class{certdomain.ClassA1, certdomain.ClassA3} {
		cert, err := s.certificates.GetActive(ctx, companyID, class)
		if errors.Is(err, certdomain.ErrNoActiveCredential) {
			continue
		}
		if err != nil {
			return certdomain.Certificate{}, err
		}
		if cert.IsActive(now) {
			return cert, nil
		}
	}
	return certdomain.Certificate{}, domain.ErrNoActiveCertificate
}

func (s *Service) Get(ctx context.Context, accountID, id string) (domain.SyncRun, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.SyncRun{}, domain.ErrInvalidAccount
	}
	runID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || runID <= 0 {
		return domain.SyncRun{}, domain.ErrInvalidID
	}
	run, err := s.repo.FindByID(ctx, s.db, accountID, runID)
	if err != nil {
		return domain.SyncRun{}, err
	}
	if run == nil {
		return domain.SyncRun{}, domain.ErrNotFound
	}
	return *run, nil
}

func (s *Service) List(ctx context.Context, req domain.ListSyncRunRequest) (domain.ListSyncRunResponse, error) {
	filter := domain.ListFilter{AccountID: strings.TrimSpace(req.AccountID)}
	if filter.AccountID == "" {
		return domain.ListSyncRunResponse{}, domain.ErrInvalidAccount
	}
	if raw := strings.TrimSpace(req.CompanyID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return domain.ListSyncRunResponse{}, domain.ErrInvalidCompany
		}
		filter.CompanyID = id
	}
	if raw := strings.TrimSpace(req.Scope); raw != "" {
		scope, ok := docdomain.ParseCategory(raw)
		if !ok {
			return domain.ListSyncRunResponse{}, domain.ErrInvalidScope
		}
		filter.Scope = scope
	}
	if raw := strings.ToLower(strings.TrimSpace(req.Status)); raw != "" {
		switch status := domain.Status(raw); status {
		case domain.StatusPending, domain.StatusRunning, domain.StatusCompleted, domain.StatusFailed:
			filter.Status = status
		default:
			return domain.ListSyncRunResponse{}, domain.ErrInvalidStatus
		}
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: req.PageSize}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil || cursor.ID == "" {
			return domain.ListSyncRunResponse{}, domain.ErrInvalidPageToken
		}
		if _, err := strconv.ParseInt(cursor.ID, 10, 64); err != nil {
			return domain.ListSyncRunResponse{}, domain.ErrInvalidPageToken
		}
	}

	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListSyncRunResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(r *domain.SyncRun) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        r.ID.String(),
			CreatedAt: r.StartedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	runs := make([]domain.SyncRun, 0, len(items))
	for _, item := range items {
		if item != nil {
			runs = append(runs, *item)
		}
	}
	return domain.ListSyncRunResponse{PageInfo: *pageInfo, Runs: runs}, nil
}

// RecoverStale releases the (company, scope) mutex held by runs whose
// process died mid-flight. The cursor is left at nsu_start.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	now := s.clock.Now().UTC()
	stale, err := s.repo.ListStale(ctx, s.db, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, run := range stale {
		if run == nil {
			continue
		}
		run.Status = domain.StatusFailed
		run.UltNSU = run.NSUStart
		run.FinishedAt = &now
		run.ErrorSummary = datatypes.JSONMap(fiscalerr.Summary(domain.ErrStaleRun))
		ok, err := s.repo.Finish(ctx, s.db, run)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		recovered++
		s.runMetrics.ObserveRun(string(run.Scope), string(run.Status), run.Duration(), 0)
		s.recordAudit(ctx, *run)
		s.log.Warn("stale sync run failed",
			zap.String("sync_run_id", run.ID.String()),
			zap.String("company_id", run.CompanyID.String()),
			zap.String("scope", string(run.Scope)),
			zap.Time("started_at", run.StartedAt),
		)
	}
	return recovered, nil
}

func (s *Service) recordAudit(ctx context.Context, run domain.SyncRun) {
	if s.audit == nil {
		return
	}
	metadata := map[string]any{
		"company_id":     run.CompanyID.String(),
		"scope":          string(run.Scope),
		"status":         string(run.Status),
		"nsu_start":      run.NSUStart,
		"ult_nsu":        run.UltNSU,
		"docs_found":     run.DocsFound,
		"docs_saved":     run.DocsSaved,
		"events_saved":   run.EventsSaved,
		"items_skipped":  run.ItemsSkipped,
		"correlation_id": run.CorrelationID,
	}
	if run.ErrorSummary != nil {
		metadata["error_code"] = run.ErrorSummary["code"]
	}
	if err := s.audit.Record(ctx, auditdomain.Entry{
		AccountID:  run.AccountID,
		Action:     auditdomain.ActionSyncRunFinished,
		TargetType: auditdomain.TargetSyncRun,
		TargetID:   run.ID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("audit write failed", zap.String("action", auditdomain.ActionSyncRunFinished), zap.Error(err))
	}
}

func direction(issuerCNPJ, companyCNPJ string) docdomain.Direction {
	if identifier.SameCNPJ(issuerCNPJ, companyCNPJ) {
		return docdomain.DirectionIssued
	}
	return docdomain.DirectionReceived
}
