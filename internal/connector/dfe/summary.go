package dfe

import (
	"fmt"
	"strconv"

	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/smallbiznis/fiscalsync/internal/providers/pdf"
)

var titles = map[docdomain.Category]string{
	docdomain.CategoryNFe:  "DANFE - Documento Auxiliar da NF-e",
	docdomain.CategoryNFCe: "DANFE NFC-e",
	docdomain.CategoryCTe:  "DACTE - Documento Auxiliar do CT-e",
	docdomain.CategoryMDFe: "DAMDFE - Documento Auxiliar do MDF-e",
	docdomain.CategoryNFSe: "NFS-e - Nota Fiscal de Serviços",
}

// PrintData projects a stored payload into the printable summary. The
// category must match the payload.
func PrintData(content []byte, category docdomain.Category) (pdf.DocumentData, error) {
	item, err := Decode(content)
	if err != nil {
		return pdf.DocumentData{}, err
	}
	if item.Document == nil {
		return pdf.DocumentData{}, fmt.Errorf("%w: payload is an event", ErrUnknownSchema)
	}
	doc := item.Document
	if doc.Category != category {
		return pdf.DocumentData{}, fmt.Errorf("dfe: payload is %s, not %s", doc.Category, category)
	}
	return documentData(*doc), nil
}

func documentData(doc connector.DocumentFields) pdf.DocumentData {
	data := pdf.DocumentData{
		Title:         titles[doc.Category],
		Category:      string(doc.Category),
		AccessKey:     doc.AccessKey,
		Number:        strconv.FormatInt(doc.Number, 10),
		Series:        strconv.Itoa(doc.Series),
		Status:        string(doc.Status),
		IssuerName:    doc.IssuerName,
		IssuerCNPJ:    identifier.FormatCNPJ(doc.IssuerCNPJ),
		RecipientName: doc.RecipientName,
		RecipientCNPJ: identifier.FormatCNPJ(doc.RecipientCNPJ),
		Total:         "R$ " + doc.Total.StringFixed(2),
	}
	if !doc.IssuedAt.IsZero() {
		data.IssueDate = doc.IssuedAt.In(brasilia).Format("02/01/2006 15:04")
	}
	if doc.AccessKey == "" {
		data.AccessKey = doc.ExternalID
	}
	if doc.Summary {
		data.Title += " (resumo)"
	}
	return data
}
