package service

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fiscalsync/internal/connector"
	"github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/storage"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Store      storage.ContentStore
	Connectors *connector.Registry
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	store      storage.ContentStore
	connectors *connector.Registry
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("document.service"),
		repo:       p.Repo,
		store:      p.Store,
		connectors: p.Connectors,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListDocumentRequest) (domain.ListDocumentResponse, error) {
	filter, err := parseFilter(req)
	if err != nil {
		return domain.ListDocumentResponse{}, err
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: req.PageSize}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil || cursor.ID == "" {
			return domain.ListDocumentResponse{}, domain.ErrInvalidPageToken
		}
		if _, err := strconv.ParseInt(cursor.ID, 10, 64); err != nil {
			return domain.ListDocumentResponse{}, domain.ErrInvalidPageToken
		}
	}

	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListDocumentResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(d *domain.FiscalDocument) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        d.ID.String(),
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	docs := make([]domain.FiscalDocument, 0, len(items))
	for _, item := range items {
		if item != nil {
			docs = append(docs, *item)
		}
	}
	return domain.ListDocumentResponse{PageInfo: *pageInfo, Documents: docs}, nil
}

// ParseFilter validates the listing filter shared by document listing and
// exports.
func ParseFilter(accountID, companyID, category, direction string, from, to *time.Time) (domain.Filter, error) {
	return parseFilter(domain.ListDocumentRequest{
		AccountID: accountID,
		CompanyID: companyID,
		Category:  category,
		Direction: direction,
		From:      from,
		To:        to,
	})
}

func parseFilter(req domain.ListDocumentRequest) (domain.Filter, error) {
	filter := domain.Filter{AccountID: strings.TrimSpace(req.AccountID)}
	if filter.AccountID == "" {
		return domain.Filter{}, domain.ErrInvalidAccount
	}
	if raw := strings.TrimSpace(req.CompanyID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return domain.Filter{}, domain.ErrInvalidCompany
		}
		filter.CompanyID = id
	}
	if raw := strings.TrimSpace(req.Category); raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			return domain.Filter{}, domain.ErrInvalidCategory
		}
		filter.Category = category
	}
	if raw := strings.ToLower(strings.TrimSpace(req.Direction)); raw != "" {
		switch domain.Direction(raw) {
		case domain.DirectionIssued, domain.DirectionReceived:
			filter.Direction = domain.Direction(raw)
		default:
			return domain.Filter{}, domain.ErrInvalidDirection
		}
	}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return domain.Filter{}, domain.ErrInvalidDateRange
	}
	if req.From != nil {
		from := req.From.UTC()
		filter.From = &from
	}
	if req.To != nil {
		to := req.To.UTC()
		filter.To = &to
	}
	return filter, nil
}

func (s *Service) Stats(ctx context.Context, req domain.StatsRequest) (domain.Stats, error) {
	filter, err := ParseFilter(req.AccountID, req.CompanyID, req.Category, req.Direction, req.From, req.To)
	if err != nil {
		return domain.Stats{}, err
	}

	buckets, err := s.repo.Stats(ctx, s.db, filter)
	if err != nil {
		return domain.Stats{}, err
	}

	stats := domain.Stats{TotalValue: decimal.Zero, Buckets: make([]domain.StatsBucket, 0, len(buckets))}
	for _, b := range buckets {
		b.TotalValue = b.TotalValue.Round(2)
		stats.Documents += b.Documents
		stats.TotalValue = stats.TotalValue.Add(b.TotalValue)
		stats.Buckets = append(stats.Buckets, b)
	}
	return stats, nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (domain.FiscalDocument, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.FiscalDocument{}, domain.ErrInvalidAccount
	}
	docID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || docID <= 0 {
		return domain.FiscalDocument{}, domain.ErrInvalidID
	}

	doc, err := s.repo.FindByID(ctx, s.db, accountID, docID)
	if err != nil {
		return domain.FiscalDocument{}, err
	}
	if doc == nil {
		return domain.FiscalDocument{}, domain.ErrNotFound
	}
	return *doc, nil
}

func (s *Service) Events(ctx context.Context, accountID, id string) ([]domain.FiscalEvent, error) {
	doc, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListEvents(ctx, s.db, doc.ID)
	if err != nil {
		return nil, err
	}
	events := make([]domain.FiscalEvent, 0, len(items))
	for _, item := range items {
		if item != nil {
			events = append(events, *item)
		}
	}
	return events, nil
}

func (s *Service) Content(ctx context.Context, accountID, id string) ([]byte, error) {
	doc, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return s.content(ctx, doc)
}

func (s *Service) content(ctx context.Context, doc domain.FiscalDocument) ([]byte, error) {
	if doc.StorageXMLPath == "" {
		return nil, domain.ErrContentMissing
	}
	rc, err := s.store.Get(ctx, doc.StorageXMLPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Warn("document content missing from store",
				zap.String("document_id", doc.ID.String()),
				zap.String("key", doc.StorageXMLPath),
			)
			return nil, domain.ErrContentMissing
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Service) Render(ctx context.Context, accountID, id string) ([]byte, error) {
	doc, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	content, err := s.content(ctx, doc)
	if err != nil {
		return nil, err
	}

	conn, err := s.connectors.Open(doc.Category)
	if err != nil {
		return nil, err
	}
	out, err := conn.RenderDocument(ctx, content, doc.Category)
	if err != nil {
		return nil, err
	}
	s.log.Debug("document rendered",
		zap.String("document_id", doc.ID.String()),
		zap.String("category", string(doc.Category)),
		zap.Int("bytes", len(out)),
	)
	return out, nil
}
