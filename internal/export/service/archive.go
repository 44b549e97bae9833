package service

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
	"github.com/xuri/excelize/v2"
)

const manifestSheet = "Documentos"

var manifestHeader = []any{
	"Categoria", "Chave/ID", "Numero", "Serie", "Emissao", "Direcao",
	"Emitente CNPJ", "Emitente", "Destinatario CNPJ", "Destinatario",
	"Valor", "Status", "Arquivo",
}

// archive writes one zip member per document, named {category}_{reference}.xml.
type archive struct {
	zw       *zip.Writer
	manifest [][]any
	withRows bool
}

func newArchive(w io.Writer, withManifest bool) *archive {
	return &archive{zw: zip.NewWriter(w), withRows: withManifest}
}

func memberName(doc *docdomain.FiscalDocument) string {
	return fmt.Sprintf("%s_%s.xml", doc.Category, doc.Reference())
}

func (a *archive) add(doc *docdomain.FiscalDocument, content io.Reader) error {
	name := memberName(doc)
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: doc.IssueDate,
	})
	if err != nil {
		return fmt.Errorf("zip member %s: %w", name, err)
	}
	if _, err := io.Copy(w, content); err != nil {
		return fmt.Errorf("zip member %s: %w", name, err)
	}
	if a.withRows {
		a.manifest = append(a.manifest, []any{
			string(doc.Category),
			doc.Reference(),
			doc.Number,
			doc.Series,
			doc.IssueDate.UTC().Format(time.RFC3339),
			string(doc.Direction),
			identifier.FormatCNPJ(doc.IssuerCNPJ),
			doc.IssuerName,
			identifier.FormatCNPJ(doc.RecipientCNPJ),
			doc.RecipientName,
			doc.TotalValue.InexactFloat64(),
			string(doc.Status),
			name,
		})
	}
	return nil
}

// close appends manifest.xlsx when requested and finishes the zip.
func (a *archive) close(generatedAt time.Time) error {
	if a.withRows {
		if err := a.writeManifest(generatedAt); err != nil {
			return err
		}
	}
	return a.zw.Close()
}

func (a *archive) writeManifest(generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", manifestSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(manifestSheet, "A1", &manifestHeader); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(manifestSheet, 1, 1, bold); err != nil {
		return err
	}
	for i, row := range a.manifest {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(manifestSheet, cell, &row); err != nil {
			return err
		}
	}

	w, err := a.zw.CreateHeader(&zip.FileHeader{Name: "manifest.xlsx", Method: zip.Deflate, Modified: generatedAt})
	if err != nil {
		return fmt.Errorf("zip manifest: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
