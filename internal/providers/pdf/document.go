package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// DocumentData is the printable projection of a document: a simplified
// DANFE/DACTE/DAMDFE, not the legal layout.
type DocumentData struct {
	Title         string
	Category      string
	AccessKey     string
	Number        string
	Series        string
	IssueDate     string
	Status        string
	Protocol      string
	IssuerName    string
	IssuerCNPJ    string
	RecipientName string
	RecipientCNPJ string
	Total         string

	Events []EventLine
}

type EventLine struct {
	Date        string
	Type        string
	Protocol    string
	Description string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) RenderDocument(ctx context.Context, data DocumentData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	title := data.Title
	if title == "" {
		title = "Documento auxiliar " + data.Category
	}
	m.AddRow(12,
		text.NewCol(12, title, props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(10,
		text.NewCol(12, "Chave de acesso: "+groupDigits(data.AccessKey), props.Text{Size: 10, Style: fontstyle.Bold}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Número: "+data.Number, props.Text{Top: 0}),
			text.New("Série: "+data.Series, props.Text{Top: 4}),
			text.New("Emissão: "+data.IssueDate, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Situação: "+data.Status, props.Text{Top: 0}),
			text.New("Protocolo: "+data.Protocol, props.Text{Top: 4}),
		),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Emitente", props.Text{Style: fontstyle.Bold}),
			text.New(data.IssuerName, props.Text{Top: 5}),
			text.New("CNPJ "+data.IssuerCNPJ, props.Text{Top: 9}),
		),
		col.New(6).Add(
			text.New("Destinatário", props.Text{Style: fontstyle.Bold}),
			text.New(data.RecipientName, props.Text{Top: 5}),
			text.New("CNPJ "+data.RecipientCNPJ, props.Text{Top: 9}),
		),
	)

	m.AddRow(12,
		col.New(8),
		text.NewCol(2, "Valor total", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(2, data.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	if len(data.Events) > 0 {
		m.AddRow(10,
			text.NewCol(12, "Eventos", props.Text{Size: 12, Style: fontstyle.Bold, Top: 3}),
		)
		m.AddRow(8,
			text.NewCol(3, "Data", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, "Tipo", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, "Protocolo", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(3, "Descrição", props.Text{Style: fontstyle.Bold, Size: 9}),
		)
		for _, event := range data.Events {
			m.AddRow(8,
				text.NewCol(3, event.Date, props.Text{Size: 9}),
				text.NewCol(3, event.Type, props.Text{Size: 9}),
				text.NewCol(3, event.Protocol, props.Text{Size: 9}),
				text.NewCol(3, event.Description, props.Text{Size: 9}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

// groupDigits prints a 44-digit key in blocks of four.
func groupDigits(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "-"
	}
	var b strings.Builder
	for i, r := range key {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
