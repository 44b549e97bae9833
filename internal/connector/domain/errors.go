package domain

import "github.com/smallbiznis/fiscalsync/internal/fiscalerr"

var (
	ErrNoCertificate       = fiscalerr.Auth("no_certificate", "connector session has no certificate")
	ErrCertificateInactive = fiscalerr.Auth("certificate_not_active", "certificate is expired or not yet active")
	ErrCertificateRevoked  = fiscalerr.Auth("certificate_revoked", "certificate was revoked")
	ErrHardwareUnsupported = fiscalerr.Auth("hardware_credential_unsupported", "this connector needs A1 key material for mutual TLS")
	ErrNotConnected        = fiscalerr.Auth("not_connected", "connect must succeed before calling the authority")
	ErrAuthorityRejected   = fiscalerr.Auth("authority_rejected", "the authority rejected the credential")

	ErrUpstream          = fiscalerr.Transport("upstream_unavailable", "the authority could not be reached")
	ErrRateLimited       = fiscalerr.Transport("consumo_indevido", "the authority throttled this CNPJ; retry after one hour")
	ErrMalformedResponse = fiscalerr.Transport("malformed_response", "the authority answered with an unreadable payload")
	ErrAuthorityFailure  = fiscalerr.Transport("authority_failure", "the authority refused the request")

	ErrUnknownDriver        = fiscalerr.Validation("unknown_connector_driver", "no connector is registered for this driver")
	ErrCategoryDisabled     = fiscalerr.Validation("category_disabled", "document category is disabled")
	ErrUnsupportedCategory  = fiscalerr.Validation("unsupported_category", "the connector does not serve this category")
	ErrUnsupportedOperation = fiscalerr.Validation("unsupported_operation", "the connector does not support this operation")
	ErrInvalidAccessKey     = fiscalerr.Validation("invalid_access_key", "access key is malformed")
	ErrDocumentNotFound     = fiscalerr.NotFound("document_not_found", "the authority has no document for this key")
)
