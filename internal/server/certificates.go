package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	obscontext "github.com/smallbiznis/fiscalsync/internal/observability/context"
)

// PFX bundles are a few kilobytes; anything larger is not a certificate.
const maxCertificateUpload = 256 << 10

// UploadCertificate accepts multipart form fields file, passphrase and an
// optional class (A1 by default).
func (s *Server) UploadCertificate(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "required", "certificate file is required"))
		return
	}
	if header.Size > maxCertificateUpload {
		AbortWithError(c, newValidationError("file", "too_large", "certificate file is too large"))
		return
	}
	f, err := header.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxCertificateUpload))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	class := certdomain.Class(strings.ToUpper(strings.TrimSpace(c.DefaultPostForm("class", string(certdomain.ClassA1)))))
	resp, err := s.certificates.Upload(c.Request.Context(), certdomain.UploadRequest{
		AccountID:  accountID(c),
		CompanyID:  c.Param("id"),
		Class:      class,
		Raw:        raw,
		Passphrase: c.PostForm("passphrase"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type pairCertificateRequest struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
	// Certificate is the token's public certificate in PEM.
	Certificate string `json:"certificate"`
}

func (s *Server) PairCertificate(c *gin.Context) {
	var req pairCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	pairReq := certdomain.PairRequest{
		AccountID:    accountID(c),
		CompanyID:    c.Param("id"),
		Subject:      strings.TrimSpace(req.Subject),
		Issuer:       strings.TrimSpace(req.Issuer),
		SerialNumber: strings.TrimSpace(req.SerialNumber),
		ValidFrom:    req.ValidFrom,
		ValidTo:      req.ValidTo,
	}
	if pem := strings.TrimSpace(req.Certificate); pem != "" {
		pairReq.RawCertificate = []byte(pem)
	}

	resp, err := s.certificates.PairA3(c.Request.Context(), pairReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListCertificates(c *gin.Context) {
	resp, err := s.certificates.List(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCertificate(c *gin.Context) {
	resp, err := s.certificates.Get(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevokeCertificate(c *gin.Context) {
	resp, err := s.certificates.Revoke(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type heartbeatRequest struct {
	PairingToken string `json:"pairing_token" binding:"required"`
}

func (s *Server) CertificateHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	id := c.Param("id")
	ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAgent), id)
	resp, err := s.certificates.Heartbeat(ctx, id, req.PairingToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
