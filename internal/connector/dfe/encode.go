package dfe

import (
	"encoding/xml"
	"fmt"
	"time"

	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
)

// brasilia is the offset the authorities stamp on dhEmi/dhEvento.
var brasilia = time.FixedZone("BRT", -3*60*60)

func formatTime(t time.Time) string {
	return t.In(brasilia).Format(time.RFC3339)
}

func statusCode(status docdomain.Status) int {
	switch status {
	case docdomain.StatusAuthorized:
		return 100
	case docdomain.StatusCancelled:
		return 101
	case docdomain.StatusDenied:
		return 110
	}
	return 0
}

func formatDecimal(f connector.DocumentFields) string {
	return f.Total.StringFixed(2)
}

// EncodeDocument renders fields as the processed XML of their category.
func EncodeDocument(f connector.DocumentFields, protocol string) ([]byte, error) {
	prot := infProt{DhRecbto: formatTime(f.IssuedAt), NProt: protocol, CStat: statusCode(f.Status)}
	head := ide{Mod: f.Category.Model(), Serie: f.Series, DhEmi: formatTime(f.IssuedAt), TpEmis: 1}

	var doc any
	switch f.Category {
	case docdomain.CategoryNFe, docdomain.CategoryNFCe:
		var p nfeProc
		p.Xmlns = NamespaceNFe
		p.Versao = "4.00"
		p.NFe.InfNFe.ID = "NFe" + f.AccessKey
		head.NNF = f.Number
		p.NFe.InfNFe.Ide = head
		p.NFe.InfNFe.Emit = party{CNPJ: f.IssuerCNPJ, XNome: f.IssuerName}
		p.NFe.InfNFe.Dest = party{CNPJ: f.RecipientCNPJ, XNome: f.RecipientName}
		p.NFe.InfNFe.Total.ICMSTot.VNF = formatDecimal(f)
		prot.ChNFe = f.AccessKey
		p.ProtNFe.InfProt = prot
		doc = p
	case docdomain.CategoryCTe:
		var p cteProc
		p.Xmlns = NamespaceCTe
		p.Versao = "4.00"
		p.CTe.InfCte.ID = "CTe" + f.AccessKey
		head.NCT = f.Number
		p.CTe.InfCte.Ide = head
		p.CTe.InfCte.Emit = party{CNPJ: f.IssuerCNPJ, XNome: f.IssuerName}
		p.CTe.InfCte.Dest = party{CNPJ: f.RecipientCNPJ, XNome: f.RecipientName}
		p.CTe.InfCte.VPrest.VTPrest = formatDecimal(f)
		prot.ChCTe = f.AccessKey
		p.ProtCTe.InfProt = prot
		doc = p
	case docdomain.CategoryMDFe:
		var p mdfeProc
		p.Xmlns = NamespaceMDFe
		p.Versao = "3.00"
		p.MDFe.InfMDFe.ID = "MDFe" + f.AccessKey
		head.NMDF = f.Number
		p.MDFe.InfMDFe.Ide = head
		p.MDFe.InfMDFe.Emit = party{CNPJ: f.IssuerCNPJ, XNome: f.IssuerName}
		p.MDFe.InfMDFe.Tot.VCarga = formatDecimal(f)
		prot.ChMDFe = f.AccessKey
		p.ProtMDFe.InfProt = prot
		doc = p
	case docdomain.CategoryNFSe:
		var p compNfse
		p.InfNfse.Numero = f.Number
		p.InfNfse.CodigoVerificacao = protocol
		p.InfNfse.DataEmissao = formatTime(f.IssuedAt)
		p.InfNfse.Prestador.Cnpj = f.IssuerCNPJ
		p.InfNfse.Prestador.RazaoSocial = f.IssuerName
		p.InfNfse.Tomador.Cnpj = f.RecipientCNPJ
		p.InfNfse.Tomador.RazaoSocial = f.RecipientName
		p.InfNfse.ValorServicos = formatDecimal(f)
		p.InfNfse.Cancelada = f.Status == docdomain.StatusCancelled
		doc = p
	default:
		return nil, fmt.Errorf("dfe: cannot encode category %q", f.Category)
	}
	return marshal(doc)
}

// EncodeEvent renders a processed event for a keyed category.
func EncodeEvent(category docdomain.Category, f connector.EventFields) ([]byte, error) {
	inf := infEvento{
		ID:         "ID" + f.Code + f.AccessKey + fmt.Sprintf("%02d", f.Sequence),
		DhEvento:   formatTime(f.OccurredAt),
		TpEvento:   f.Code,
		NSeqEvento: f.Sequence,
	}
	inf.DetEvento.DescEvento = f.Description
	ret := retInfEvento{CStat: 135, XMotivo: "Evento registrado e vinculado", NProt: f.Protocol, DhRegEvento: formatTime(f.OccurredAt)}

	var p procEvento
	p.Versao = "1.00"
	switch category {
	case docdomain.CategoryNFe, docdomain.CategoryNFCe:
		p.XMLName = xml.Name{Local: "procEventoNFe"}
		p.Xmlns = NamespaceNFe
		inf.ChNFe = f.AccessKey
		p.Evento = &struct {
			InfEvento infEvento `xml:"infEvento"`
		}{inf}
		p.RetEvento = &struct {
			InfEvento retInfEvento `xml:"infEvento"`
		}{ret}
	case docdomain.CategoryCTe:
		p.XMLName = xml.Name{Local: "procEventoCTe"}
		p.Xmlns = NamespaceCTe
		inf.ChCTe = f.AccessKey
		p.EventoCTe = &struct {
			InfEvento infEvento `xml:"infEvento"`
		}{inf}
		p.RetEventoCTe = &struct {
			InfEvento retInfEvento `xml:"infEvento"`
		}{ret}
	case docdomain.CategoryMDFe:
		p.XMLName = xml.Name{Local: "procEventoMDFe"}
		p.Xmlns = NamespaceMDFe
		inf.ChMDFe = f.AccessKey
		p.EventoMDFe = &struct {
			InfEvento infEvento `xml:"infEvento"`
		}{inf}
		p.RetEventoMDFe = &struct {
			InfEvento retInfEvento `xml:"infEvento"`
		}{ret}
	default:
		return nil, fmt.Errorf("dfe: category %q has no events", category)
	}
	return marshal(p)
}

func marshal(v any) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// ProtocolNumber builds a 15-digit authorization protocol: a leading 1, the
// region code, AAMM and an 8-digit sequence.
func ProtocolNumber(regionCode string, issuedAt time.Time, seq int64) string {
	if len(regionCode) != 2 {
		regionCode = "91"
	}
	return fmt.Sprintf("1%s%s%08d", regionCode, issuedAt.In(brasilia).Format("0601"), seq%100_000_000)
}
