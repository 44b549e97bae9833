package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	"github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	"github.com/smallbiznis/fiscalsync/internal/certificate/parser"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
	"github.com/smallbiznis/fiscalsync/internal/keyring"
	"github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	"github.com/smallbiznis/fiscalsync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultExpiryWarnDays = 30

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Keyring *keyring.Keyring
	Repo    domain.Repository
	Audit   auditdomain.Service `optional:"true"`
	Metrics *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	keyring  *keyring.Keyring
	repo     domain.Repository
	audit    auditdomain.Service
	metrics  *metrics.Metrics
	warnDays int
}

func New(p Params) domain.Service {
	warnDays := p.Cfg.Certificate.ExpiryWarnDays
	if warnDays <= 0 {
		warnDays = defaultExpiryWarnDays
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("certificate.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		keyring:  p.Keyring,
		repo:     p.Repo,
		audit:    p.Audit,
		metrics:  p.Metrics,
		warnDays: warnDays,
	}
}

// Upload parses an A1 PFX, seals it and activates it, expiring whatever was
// active for the company in the same transaction.
func (s *Service) Upload(ctx context.Context, req domain.UploadRequest) (domain.Certificate, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.Certificate{}, domain.ErrInvalidAccount
	}
	class, err := parseClass(string(req.Class))
	if err != nil {
		return domain.Certificate{}, err
	}
	if class != domain.ClassA1 {
		return domain.Certificate{}, fiscalerr.WithMessage(domain.ErrInvalidClass, "A3 certificates are paired through an agent, not uploaded")
	}
	companyID, err := s.ownedCompany(ctx, accountID, req.CompanyID)
	if err != nil {
		return domain.Certificate{}, err
	}

	parsed, err := parser.ParsePFX(req.Raw, req.Passphrase)
	if err != nil {
		s.metrics.RecordCertificateUpload(ctx, string(class), "invalid")
		return domain.Certificate{}, fiscalerr.Wrap(domain.ErrInvalidCredential, err)
	}

	now := s.clock.Now().UTC()
	leaf := parsed.Leaf
	if !now.Before(leaf.NotAfter) {
		s.metrics.RecordCertificateUpload(ctx, string(class), "expired")
		return domain.Certificate{}, domain.ErrExpiredCredential
	}

	cert := domain.Certificate{
		ID:           s.genID.Generate(),
		CompanyID:    companyID,
		Class:        class,
		Status:       domain.StatusActive,
		Fingerprint:  parser.Fingerprint(leaf),
		Subject:      parser.DisplayName(leaf.Subject),
		Issuer:       parser.DisplayName(leaf.Issuer),
		SerialNumber: parser.SerialHex(leaf),
		ValidFrom:    leaf.NotBefore.UTC(),
		ValidTo:      leaf.NotAfter.UTC(),
		Metadata: datatypes.JSONMap{
			"subject_dn":  leaf.Subject.String(),
			"issuer_dn":   leaf.Issuer.String(),
			"chain_depth": len(parsed.Chain),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.seal(&cert, req.Raw, req.Passphrase); err != nil {
		return domain.Certificate{}, err
	}

	var expired int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.ExpireActive(ctx, tx, companyID, class, now)
		if err != nil {
			return err
		}
		expired = n
		return s.repo.Insert(ctx, tx, &cert)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Certificate{}, domain.ErrActivationConflict
		}
		return domain.Certificate{}, err
	}

	s.metrics.RecordCertificateUpload(ctx, string(class), "accepted")
	s.recordAudit(ctx, accountID, auditdomain.ActionCertificateUploaded, cert, map[string]any{
		"class":            string(class),
		"fingerprint":      cert.Fingerprint,
		"valid_to":         cert.ValidTo.Format(time.RFC3339),
		"superseded_count": expired,
	})
	s.log.Info("certificate uploaded",
		zap.String("company_id", companyID.String()),
		zap.String("certificate_id", cert.ID.String()),
		zap.String("fingerprint", cert.Fingerprint),
		zap.Int64("superseded", expired),
	)
	return stripSecrets(cert), nil
}

func (s *Service) GetActive(ctx context.Context, companyID snowflake.ID, class domain.Class) (domain.Certificate, error) {
	if companyID == 0 {
		return domain.Certificate{}, domain.ErrInvalidCompany
	}
	class, err := parseClass(string(class))
	if err != nil {
		return domain.Certificate{}, err
	}
	cert, err := s.repo.FindActive(ctx, s.db, companyID, class)
	if err != nil {
		return domain.Certificate{}, err
	}
	if cert == nil {
		return domain.Certificate{}, domain.ErrNoActiveCredential
	}
	return stripSecrets(*cert), nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (domain.Certificate, error) {
	cert, err := s.owned(ctx, accountID, id)
	if err != nil {
		return domain.Certificate{}, err
	}
	return stripSecrets(*cert), nil
}

func (s *Service) List(ctx context.Context, accountID, companyID string) ([]domain.Certificate, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	cid, err := s.ownedCompany(ctx, accountID, companyID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByCompany(ctx, s.db, cid)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Certificate, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, stripSecrets(*item))
		}
	}
	return out, nil
}

// Revoke is irreversible.
func (s *Service) Revoke(ctx context.Context, accountID, id string) (domain.Certificate, error) {
	cert, err := s.owned(ctx, accountID, id)
	if err != nil {
		return domain.Certificate{}, err
	}
	if cert.Status == domain.StatusRevoked {
		return domain.Certificate{}, domain.ErrAlreadyRevoked
	}

	now := s.clock.Now().UTC()
	ok, err := s.repo.TransitionStatus(ctx, s.db, cert.ID,
		[]domain.Status{domain.StatusPending, domain.StatusActive, domain.StatusExpired},
		domain.StatusRevoked, now)
	if err != nil {
		return domain.Certificate{}, err
	}
	if !ok {
		return domain.Certificate{}, domain.ErrAlreadyRevoked
	}

	prior := cert.Status
	cert.Status = domain.StatusRevoked
	cert.UpdatedAt = now
	s.recordAudit(ctx, strings.TrimSpace(accountID), auditdomain.ActionCertificateRevoked, *cert, map[string]any{
		"class":       string(cert.Class),
		"prior":       string(prior),
		"fingerprint": cert.Fingerprint,
	})
	s.log.Info("certificate revoked",
		zap.String("company_id", cert.CompanyID.String()),
		zap.String("certificate_id", cert.ID.String()),
		zap.String("prior_status", string(prior)),
	)
	return stripSecrets(*cert), nil
}

// PairA3 registers a hardware token as pending. The returned token is shown
// once; only its digest is stored.
func (s *Service) PairA3(ctx context.Context, req domain.PairRequest) (domain.PairResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.PairResponse{}, domain.ErrInvalidAccount
	}
	companyID, err := s.ownedCompany(ctx, accountID, req.CompanyID)
	if err != nil {
		return domain.PairResponse{}, err
	}

	cert := domain.Certificate{
		Subject:      strings.TrimSpace(req.Subject),
		Issuer:       strings.TrimSpace(req.Issuer),
		SerialNumber: strings.TrimSpace(req.SerialNumber),
		ValidFrom:    req.ValidFrom.UTC(),
		ValidTo:      req.ValidTo.UTC(),
	}
	if len(req.RawCertificate) > 0 {
		parsed, err := parser.ParsePublic(req.RawCertificate)
		if err != nil {
			return domain.PairResponse{}, fiscalerr.Wrap(domain.ErrInvalidCredential, err)
		}
		cert.Subject = parser.DisplayName(parsed.Leaf.Subject)
		cert.Issuer = parser.DisplayName(parsed.Leaf.Issuer)
		cert.SerialNumber = parser.SerialHex(parsed.Leaf)
		cert.Fingerprint = parser.Fingerprint(parsed.Leaf)
		cert.ValidFrom = parsed.Leaf.NotBefore.UTC()
		cert.ValidTo = parsed.Leaf.NotAfter.UTC()
	}
	if cert.Subject == "" {
		return domain.PairResponse{}, fiscalerr.WithMessage(domain.ErrInvalidCredential, "subject is required")
	}
	if !cert.ValidFrom.Before(cert.ValidTo) {
		return domain.PairResponse{}, domain.ErrInvalidValidity
	}

	now := s.clock.Now().UTC()
	if !now.Before(cert.ValidTo) {
		return domain.PairResponse{}, domain.ErrExpiredCredential
	}

	token := "pair_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	digest := tokenDigest(token)

	cert.ID = s.genID.Generate()
	cert.CompanyID = companyID
	cert.Class = domain.ClassA3
	cert.Status = domain.StatusPending
	cert.PairingToken = &digest
	cert.CreatedAt = now
	cert.UpdatedAt = now

	if err := s.repo.Insert(ctx, s.db, &cert); err != nil {
		return domain.PairResponse{}, err
	}

	s.recordAudit(ctx, accountID, auditdomain.ActionCertificatePaired, cert, map[string]any{
		"class":         string(cert.Class),
		"subject":       cert.Subject,
		"pairing_token": token,
	})
	s.log.Info("A3 certificate paired",
		zap.String("company_id", companyID.String()),
		zap.String("certificate_id", cert.ID.String()),
	)
	return domain.PairResponse{Certificate: stripSecrets(cert), PairingToken: token}, nil
}

// Heartbeat records agent liveness. The first heartbeat of a pending A3 row
// activates it and expires the prior active A3 atomically.
func (s *Service) Heartbeat(ctx context.Context, id, pairingToken string) (domain.Certificate, error) {
	certID, err := parseID(id)
	if err != nil {
		return domain.Certificate{}, err
	}
	cert, err := s.repo.FindByID(ctx, s.db, certID)
	if err != nil {
		return domain.Certificate{}, err
	}
	if cert == nil || cert.Class != domain.ClassA3 {
		return domain.Certificate{}, domain.ErrNotFound
	}
	if cert.PairingToken == nil || !tokenMatches(*cert.PairingToken, pairingToken) {
		return domain.Certificate{}, domain.ErrInvalidPairing
	}

	now := s.clock.Now().UTC()
	switch cert.Status {
	case domain.StatusRevoked, domain.StatusExpired:
		return domain.Certificate{}, domain.ErrNotActive
	}
	if !now.Before(cert.ValidTo) {
		return domain.Certificate{}, domain.ErrExpiredCredential
	}

	if cert.Status == domain.StatusActive {
		if err := s.repo.TouchHeartbeat(ctx, s.db, cert.ID, now); err != nil {
			return domain.Certificate{}, err
		}
		cert.LastHeartbeat = &now
		return stripSecrets(*cert), nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.ExpireActive(ctx, tx, cert.CompanyID, domain.ClassA3, now); err != nil {
			return err
		}
		ok, err := s.repo.Activate(ctx, tx, cert.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrActivationConflict
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Certificate{}, domain.ErrActivationConflict
		}
		return domain.Certificate{}, err
	}

	cert.Status = domain.StatusActive
	cert.LastHeartbeat = &now
	cert.UpdatedAt = now

	accountID, _ := s.repo.CompanyAccount(ctx, s.db, cert.CompanyID)
	s.recordAudit(ctx, accountID, auditdomain.ActionCertificateActivated, *cert, map[string]any{
		"class": string(cert.Class),
	})
	s.log.Info("A3 certificate activated by heartbeat",
		zap.String("company_id", cert.CompanyID.String()),
		zap.String("certificate_id", cert.ID.String()),
	)
	return stripSecrets(*cert), nil
}

// ExpireDue moves active rows whose valid_to has passed to expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	due, err := s.repo.ListDue(ctx, s.db, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cert := range due {
		if cert == nil {
			continue
		}
		ok, err := s.repo.TransitionStatus(ctx, s.db, cert.ID, []domain.Status{domain.StatusActive}, domain.StatusExpired, now)
		if err != nil {
			return expired, fmt.Errorf("expire certificate %s: %w", cert.ID, err)
		}
		if !ok {
			continue
		}
		expired++
		accountID, _ := s.repo.CompanyAccount(ctx, s.db, cert.CompanyID)
		s.recordAudit(ctx, accountID, auditdomain.ActionCertificateExpired, *cert, map[string]any{
			"class":    string(cert.Class),
			"valid_to": cert.ValidTo.Format(time.RFC3339),
		})
	}
	if expired > 0 {
		s.log.Info("expired due certificates", zap.Int("count", expired))
	}
	return expired, nil
}

// ListExpiringSoon uses the configured warning window when days <= 0.
func (s *Service) ListExpiringSoon(ctx context.Context, days int) ([]domain.Certificate, error) {
	if days <= 0 {
		days = s.warnDays
	}
	now := s.clock.Now().UTC()
	items, err := s.repo.ListExpiring(ctx, s.db, now, now.Add(time.Duration(days)*24*time.Hour))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Certificate, 0, len(items))
	for _, item := range items {
		if item != nil && item.IsExpiringSoon(now, days) {
			out = append(out, stripSecrets(*item))
		}
	}
	return out, nil
}

// OpenCredential decrypts the active A1 material of a company.
func (s *Service) OpenCredential(ctx context.Context, companyID snowflake.ID, class domain.Class) (*domain.Credential, error) {
	cert, err := s.repo.FindActive(ctx, s.db, companyID, class)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNoActiveCredential
	}
	if !cert.IsActive(s.clock.Now().UTC()) {
		return nil, domain.ErrNotActive
	}

	cred := &domain.Credential{
		CertificateID: cert.ID,
		CompanyID:     cert.CompanyID,
		Class:         cert.Class,
		Fingerprint:   cert.Fingerprint,
		ValidTo:       cert.ValidTo,
	}
	if cert.Class == domain.ClassA3 {
		return cred, nil
	}

	raw, passphrase, err := s.open(cert)
	if err != nil {
		return nil, err
	}
	parsed, err := parser.ParsePFX(raw, passphrase)
	if err != nil {
		return nil, fiscalerr.Wrap(domain.ErrInvalidCredential, err)
	}
	cred.Leaf = parsed.Leaf
	cred.TLS = parsed.TLSCertificate()
	return cred, nil
}

func (s *Service) seal(cert *domain.Certificate, raw []byte, passphrase string) error {
	dek, wrapped, err := s.keyring.NewDataKey()
	if err != nil {
		return err
	}
	aad := []byte(cert.ID.String())
	blob, err := keyring.Seal(dek, raw, aad)
	if err != nil {
		return fmt.Errorf("seal certificate: %w", err)
	}
	secret, err := keyring.Seal(dek, []byte(passphrase), aad)
	if err != nil {
		return fmt.Errorf("seal passphrase: %w", err)
	}
	cert.EncryptedBlob = blob
	cert.EncryptedPassphrase = secret
	cert.EncryptedDEK = wrapped
	return nil
}

func (s *Service) open(cert *domain.Certificate) ([]byte, string, error) {
	if len(cert.EncryptedBlob) == 0 || len(cert.EncryptedDEK) == 0 {
		return nil, "", domain.ErrKeyMaterialMissing
	}
	dek, err := s.keyring.Unwrap(cert.EncryptedDEK)
	if err != nil {
		return nil, "", fiscalerr.Wrap(domain.ErrInvalidCredential, err)
	}
	aad := []byte(cert.ID.String())
	raw, err := keyring.Open(dek, cert.EncryptedBlob, aad)
	if err != nil {
		return nil, "", fiscalerr.Wrap(domain.ErrInvalidCredential, err)
	}
	passphrase, err := keyring.Open(dek, cert.EncryptedPassphrase, aad)
	if err != nil {
		return nil, "", fiscalerr.Wrap(domain.ErrInvalidCredential, err)
	}
	return raw, string(passphrase), nil
}

func (s *Service) owned(ctx context.Context, accountID, id string) (*domain.Certificate, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	certID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	cert, err := s.repo.FindByID(ctx, s.db, certID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNotFound
	}
	owner, err := s.repo.CompanyAccount(ctx, s.db, cert.CompanyID)
	if err != nil {
		return nil, err
	}
	if owner != accountID {
		return nil, domain.ErrNotFound
	}
	return cert, nil
}

func (s *Service) ownedCompany(ctx context.Context, accountID, companyID string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(companyID))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidCompany
	}
	owner, err := s.repo.CompanyAccount(ctx, s.db, id)
	if err != nil {
		return 0, err
	}
	if owner == "" || owner != accountID {
		return 0, domain.ErrCompanyNotFound
	}
	return id, nil
}

func (s *Service) recordAudit(ctx context.Context, accountID, action string, cert domain.Certificate, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	metadata["company_id"] = cert.CompanyID.String()
	if err := s.audit.Record(ctx, auditdomain.Entry{
		AccountID:  accountID,
		Action:     action,
		TargetType: auditdomain.TargetCertificate,
		TargetID:   cert.ID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parseClass(value string) (domain.Class, error) {
	switch domain.Class(strings.ToUpper(strings.TrimSpace(value))) {
	case domain.ClassA1:
		return domain.ClassA1, nil
	case domain.ClassA3:
		return domain.ClassA3, nil
	default:
		return "", domain.ErrInvalidClass
	}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(digest, token string) bool {
	return subtle.ConstantTimeCompare([]byte(digest), []byte(tokenDigest(token))) == 1
}

func stripSecrets(cert domain.Certificate) domain.Certificate {
	cert.EncryptedBlob = nil
	cert.EncryptedPassphrase = nil
	cert.EncryptedDEK = nil
	cert.PairingToken = nil
	return cert
}
