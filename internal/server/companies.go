package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
)

type createCompanyRequest struct {
	CNPJ              string `json:"cnpj" binding:"required,cnpj"`
	LegalName         string `json:"legal_name" binding:"required"`
	TradeName         string `json:"trade_name"`
	StateRegistration string `json:"state_registration"`
	UF                string `json:"uf" binding:"required,uf"`
	Municipality      string `json:"municipality"`
}

func (s *Server) CreateCompany(c *gin.Context) {
	var req createCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.companies.Create(c.Request.Context(), companydomain.CreateCompanyRequest{
		AccountID:         accountID(c),
		CNPJ:              req.CNPJ,
		LegalName:         strings.TrimSpace(req.LegalName),
		TradeName:         strings.TrimSpace(req.TradeName),
		StateRegistration: strings.TrimSpace(req.StateRegistration),
		UF:                strings.TrimSpace(req.UF),
		Municipality:      strings.TrimSpace(req.Municipality),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListCompanies(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.companies.List(c.Request.Context(), companydomain.ListCompanyRequest{
		AccountID: accountID(c),
		Status:    strings.TrimSpace(query.Status),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCompany(c *gin.Context) {
	resp, err := s.companies.Get(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateCompanyRequest struct {
	LegalName         *string `json:"legal_name"`
	TradeName         *string `json:"trade_name"`
	StateRegistration *string `json:"state_registration"`
	Municipality      *string `json:"municipality"`
}

func (s *Server) UpdateCompany(c *gin.Context) {
	var req updateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.companies.Update(c.Request.Context(), companydomain.UpdateCompanyRequest{
		AccountID:         accountID(c),
		ID:                c.Param("id"),
		LegalName:         req.LegalName,
		TradeName:         req.TradeName,
		StateRegistration: req.StateRegistration,
		Municipality:      req.Municipality,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type setCompanyStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active inactive"`
}

func (s *Server) SetCompanyStatus(c *gin.Context) {
	var req setCompanyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.companies.SetStatus(c.Request.Context(), accountID(c), c.Param("id"), companydomain.Status(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteCompany(c *gin.Context) {
	if err := s.companies.Delete(c.Request.Context(), accountID(c), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
