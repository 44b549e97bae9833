package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/pkg/db"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("company.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCompanyRequest) (domain.Company, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.Company{}, domain.ErrInvalidAccount
	}

	cnpj := identifier.NormalizeCNPJ(req.CNPJ)
	if !identifier.ValidateCNPJ(cnpj) {
		return domain.Company{}, domain.ErrInvalidCNPJ
	}

	legalName := strings.TrimSpace(req.LegalName)
	if legalName == "" {
		return domain.Company{}, domain.ErrInvalidLegalName
	}
	if err := checkLengths(map[string]string{
		"legal_name":         legalName,
		"trade_name":         req.TradeName,
		"state_registration": req.StateRegistration,
		"municipality":       req.Municipality,
	}); err != nil {
		return domain.Company{}, err
	}

	uf := strings.ToUpper(strings.TrimSpace(req.UF))
	if !identifier.ValidUF(uf) {
		return domain.Company{}, domain.ErrInvalidUF
	}

	now := s.clock.Now().UTC()
	company := domain.Company{
		ID:                s.genID.Generate(),
		AccountID:         accountID,
		CNPJ:              cnpj,
		LegalName:         legalName,
		TradeName:         strings.TrimSpace(req.TradeName),
		StateRegistration: strings.TrimSpace(req.StateRegistration),
		UF:                uf,
		Municipality:      strings.TrimSpace(req.Municipality),
		Status:            domain.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, &company); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Company{}, domain.ErrAlreadyExists
		}
		return domain.Company{}, err
	}

	s.log.Info("company registered",
		zap.String("account_id", accountID),
		zap.String("company_id", company.ID.String()),
		zap.String("uf", uf),
	)
	return company, nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (domain.Company, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Company{}, domain.ErrInvalidAccount
	}
	companyID, err := parseID(id)
	if err != nil {
		return domain.Company{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, accountID, companyID)
	if err != nil {
		return domain.Company{}, err
	}
	if item == nil {
		return domain.Company{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCompanyRequest) (domain.ListCompanyResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.ListCompanyResponse{}, domain.ErrInvalidAccount
	}

	filter := domain.ListCompanyFilter{}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return domain.ListCompanyResponse{}, err
		}
		filter.Status = parsed
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: req.PageSize}
	if page.PageToken != "" {
		if _, err := pagination.DecodeCursor(page.PageToken); err != nil {
			return domain.ListCompanyResponse{}, domain.ErrInvalidPageToken
		}
	}

	items, err := s.repo.List(ctx, s.db, accountID, filter, page)
	if err != nil {
		return domain.ListCompanyResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(c *domain.Company) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        c.ID.String(),
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	companies := make([]domain.Company, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		companies = append(companies, *item)
	}
	return domain.ListCompanyResponse{PageInfo: *pageInfo, Companies: companies}, nil
}

// ListActive returns active companies across all accounts for the scheduler.
func (s *Service) ListActive(ctx context.Context) ([]domain.Company, error) {
	items, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Company, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateCompanyRequest) (domain.Company, error) {
	company, err := s.Get(ctx, req.AccountID, req.ID)
	if err != nil {
		return domain.Company{}, err
	}

	changes := map[string]any{}
	if req.LegalName != nil {
		name := strings.TrimSpace(*req.LegalName)
		if name == "" {
			return domain.Company{}, domain.ErrInvalidLegalName
		}
		company.LegalName = name
		changes["legal_name"] = name
	}
	for column, field := range map[string]struct {
		value *string
		dst   *string
	}{
		"trade_name":         {req.TradeName, &company.TradeName},
		"state_registration": {req.StateRegistration, &company.StateRegistration},
		"municipality":       {req.Municipality, &company.Municipality},
	} {
		if field.value == nil {
			continue
		}
		*field.dst = strings.TrimSpace(*field.value)
		changes[column] = *field.dst
	}
	if len(changes) == 0 {
		return company, nil
	}

	lengths := make(map[string]string, len(changes))
	for column, value := range changes {
		lengths[column] = value.(string)
	}
	if err := checkLengths(lengths); err != nil {
		return domain.Company{}, err
	}

	now := s.clock.Now().UTC()
	changes["updated_at"] = now
	if err := s.repo.Update(ctx, s.db, company.AccountID, company.ID, changes); err != nil {
		return domain.Company{}, err
	}
	company.UpdatedAt = now

	s.log.Info("company updated",
		zap.String("account_id", company.AccountID),
		zap.String("company_id", company.ID.String()),
		zap.Int("fields", len(changes)-1),
	)
	return company, nil
}

func (s *Service) SetStatus(ctx context.Context, accountID, id string, status domain.Status) (domain.Company, error) {
	if _, err := parseStatus(string(status)); err != nil {
		return domain.Company{}, err
	}
	company, err := s.Get(ctx, accountID, id)
	if err != nil {
		return domain.Company{}, err
	}
	if company.Status == status {
		return company, nil
	}

	now := s.clock.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, s.db, company.AccountID, company.ID, status, now); err != nil {
		return domain.Company{}, err
	}
	company.Status = status
	company.UpdatedAt = now
	return company, nil
}

func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.ErrInvalidAccount
	}
	companyID, err := parseID(id)
	if err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, s.db, accountID, companyID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	s.log.Info("company deleted", zap.String("account_id", accountID), zap.String("company_id", companyID.String()))
	return nil
}

// maxLengths mirrors the column widths of the companies table.
var maxLengths = map[string]int{
	"legal_name":         255,
	"trade_name":         255,
	"state_registration": 32,
	"municipality":       128,
}

func checkLengths(fields map[string]string) error {
	for column, value := range fields {
		if limit, ok := maxLengths[column]; ok && utf8.RuneCountInString(value) > limit {
			return domain.ErrFieldTooLong
		}
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parseStatus(value string) (domain.Status, error) {
	switch domain.Status(strings.ToLower(strings.TrimSpace(value))) {
	case domain.StatusActive:
		return domain.StatusActive, nil
	case domain.StatusInactive:
		return domain.StatusInactive, nil
	default:
		return "", domain.ErrInvalidStatus
	}
}
