// Package dfe reads and writes the XML payloads exchanged with the national
// DF-e distribution services: full processed documents (nfeProc, cteProc,
// mdfeProc), recipient digests (resNFe, resEvento) and processed events.
package dfe

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"
	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
)

var (
	ErrUnknownSchema = errors.New("dfe: unsupported payload schema")
	ErrMissingKey    = errors.New("dfe: payload carries no valid access key")
)

// Item is a decoded payload: exactly one of Document or Event is set.
type Item struct {
	Document *connector.DocumentFields
	Event    *connector.EventFields
}

// Unzip decodes a docZip element: base64 of a gzip stream.
func Unzip(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("dfe: docZip base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("dfe: docZip gzip: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Zip is the inverse of Unzip.
func Zip(content []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RootElement returns the local name of the first element in content.
func RootElement(content []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("dfe: read root: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// Decode parses one payload. The returned fields carry content verbatim.
func Decode(content []byte) (Item, error) {
	root, err := RootElement(content)
	if err != nil {
		return Item{}, err
	}

	var item Item
	switch root {
	case "nfeProc":
		item.Document, err = decodeNFeProc(content)
	case "cteProc":
		item.Document, err = decodeCTeProc(content)
	case "mdfeProc":
		item.Document, err = decodeMDFeProc(content)
	case "resNFe":
		item.Document, err = decodeResNFe(content)
	case "CompNfse":
		item.Document, err = decodeCompNfse(content)
	case "resEvento":
		item.Event, err = decodeResEvento(content)
	case "procEventoNFe", "procEventoCTe", "procEventoMDFe":
		item.Event, err = decodeProcEvento(content)
	default:
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownSchema, root)
	}
	if err != nil {
		return Item{}, err
	}
	if item.Document != nil {
		item.Document.Content = content
	}
	if item.Event != nil {
		item.Event.Content = content
	}
	return item, nil
}

func decodeNFeProc(content []byte) (*connector.DocumentFields, error) {
	var doc nfeProc
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("dfe: nfeProc: %w", err)
	}
	inf := doc.NFe.InfNFe
	key := firstKey(strings.TrimPrefix(inf.ID, "NFe"), doc.ProtNFe.InfProt.ChNFe)
	fields, err := keyedDocument(key)
	if err != nil {
		return nil, err
	}
	fields.Number = inf.Ide.NNF
	fields.Series = inf.Ide.Serie
	fields.IssuedAt = parseTime(inf.Ide.DhEmi)
	fields.IssuerCNPJ = inf.Emit.CNPJ
	fields.IssuerName = inf.Emit.XNome
	fields.RecipientCNPJ = firstNonEmpty(inf.Dest.CNPJ, inf.Dest.CPF)
	fields.RecipientName = inf.Dest.XNome
	fields.Total = parseDecimal(inf.Total.ICMSTot.VNF)
	fields.Status = protocolStatus(doc.ProtNFe.InfProt.CStat)
	return fields, nil
}

func decodeCTeProc(content []byte) (*connector.DocumentFields, error) {
	var doc cteProc
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("dfe: cteProc: %w", err)
	}
	inf := doc.CTe.InfCte
	fields, err := keyedDocument(firstKey(strings.TrimPrefix(inf.ID, "CTe"), doc.ProtCTe.InfProt.ChCTe))
	if err != nil {
		return nil, err
	}
	fields.Number = inf.Ide.NCT
	fields.Series = inf.Ide.Serie
	fields.IssuedAt = parseTime(inf.Ide.DhEmi)
	fields.IssuerCNPJ = inf.Emit.CNPJ
	fields.IssuerName = inf.Emit.XNome
	fields.RecipientCNPJ = firstNonEmpty(inf.Dest.CNPJ, inf.Dest.CPF)
	fields.RecipientName = inf.Dest.XNome
	fields.Total = parseDecimal(inf.VPrest.VTPrest)
	fields.Status = protocolStatus(doc.ProtCTe.InfProt.CStat)
	return fields, nil
}

func decodeMDFeProc(content []byte) (*connector.DocumentFields, error) {
	var doc mdfeProc
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("dfe: mdfeProc: %w", err)
	}
	inf := doc.MDFe.InfMDFe
	fields, err := keyedDocument(firstKey(strings.TrimPrefix(inf.ID, "MDFe"), doc.ProtMDFe.InfProt.ChMDFe))
	if err != nil {
		return nil, err
	}
	fields.Number = inf.Ide.NMDF
	fields.Series = inf.Ide.Serie
	fields.IssuedAt = parseTime(inf.Ide.DhEmi)
	fields.IssuerCNPJ = inf.Emit.CNPJ
	fields.IssuerName = inf.Emit.XNome
	fields.Total = parseDecimal(inf.Tot.VCarga)
	fields.Status = protocolStatus(doc.ProtMDFe.InfProt.CStat)
	return fields, nil
}

func decodeResNFe(content []byte) (*connector.DocumentFields, error) {
	var doc resNFe
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("dfe: resNFe: %w", err)
	}
	fields, err := keyedDocument(doc.ChNFe)
	if err != nil {
		return nil, err
	}
	fields.IssuedAt = parseTime(doc.DhEmi)
	fields.IssuerCNPJ = doc.CNPJ
	fields.IssuerName = doc.XNome
	fields.Total = parseDecimal(doc.VNF)
	fields.Summary = true
	switch doc.CSitNFe {
	case 1:
		fields.Status = docdomain.StatusAuthorized
	case 2:
		fields.Status = docdomain.StatusDenied
	case 3:
		fields.Status = docdomain.StatusCancelled
	default:
		fields.Status = docdomain.StatusPending
	}
	return fields, nil
}

func decodeCompNfse(content []byte) (*connector.DocumentFields, error) {
	var doc compNfse
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("dfe: CompNfse: %w", err)
	}
	inf := doc.InfNfse
	provider := identifier.NormalizeCNPJ(inf.Prestador.Cnpj)
	if provider == "" || inf.Numero <= 0 {
		return nil, fmt.Errorf("dfe: CompNfse without provider or number")
	}
	status := docdomain.StatusAuthorized
	if inf.Cancelada {
		status = docdomain.StatusCancelled
	}
	return &connector.DocumentFields{
		Category:      docdomain.CategoryNFSe,
		ExternalID:    NFSeExternalID(provider, inf.Numero),
		Number:        inf.Numero,
		IssuedAt:      parseTime(inf.DataEmissao),
		IssuerCNPJ:    provider,
		IssuerName:    inf.Prestador.RazaoSocial,
		RecipientCNPJ: identifier.NormalizeCNPJ(inf.Tomador.Cnpj),
		RecipientName: inf.Tomador.RazaoSocial,
		Total:         parseDecimal(inf.ValorServicos),
		Status:        status,
	}, nil
}

// NFSeExternalID identifies a keyless service invoice.
func NFSeExternalID(providerCNPJ string, number int64) string {
	return "NFSE-" + providerCNPJ + "-" + strconv.FormatInt(number, 10)
}

func decodeResEvento(content []byte) (*connector.EventFields, error) {
	var ev resEvento
	if err := xml.Unmarshal(content, &ev); err != nil {
		return nil, fmt.Errorf("dfe: resEvento: %w", err)
	}
	if !identifier.ValidateAccessKey(ev.ChNFe) {
		return nil, ErrMissingKey
	}
	return &connector.EventFields{
		AccessKey:   ev.ChNFe,
		Code:        ev.TpEvento,
		Type:        EventType(ev.TpEvento),
		OccurredAt:  parseTime(ev.DhEvento),
		Protocol:    ev.NProt,
		Sequence:    ev.NSeqEvento,
		Description: ev.XEvento,
	}, nil
}

func decodeProcEvento(content []byte) (*connector.EventFields, error) {
	var proc procEvento
	if err := xml.Unmarshal(content, &proc); err != nil {
		return nil, fmt.Errorf("dfe: %s: %w", proc.XMLName.Local, err)
	}

	var inf *infEvento
	switch {
	case proc.Evento != nil:
		inf = &proc.Evento.InfEvento
	case proc.EventoCTe != nil:
		inf = &proc.EventoCTe.InfEvento
	case proc.EventoMDFe != nil:
		inf = &proc.EventoMDFe.InfEvento
	default:
		return nil, fmt.Errorf("dfe: %s without evento", proc.XMLName.Local)
	}

	var protocol string
	switch {
	case proc.RetEvento != nil:
		protocol = proc.RetEvento.InfEvento.NProt
	case proc.RetEventoCTe != nil:
		protocol = proc.RetEventoCTe.InfEvento.NProt
	case proc.RetEventoMDFe != nil:
		protocol = proc.RetEventoMDFe.InfEvento.NProt
	}

	key := firstNonEmpty(inf.ChNFe, inf.ChCTe, inf.ChMDFe)
	if !identifier.ValidateAccessKey(key) {
		return nil, ErrMissingKey
	}
	description := inf.DetEvento.DescEvento
	if detail := firstNonEmpty(inf.DetEvento.XJust, inf.DetEvento.XCorrecao); detail != "" {
		description = strings.TrimSpace(description + ": " + detail)
	}
	return &connector.EventFields{
		AccessKey:   key,
		Code:        inf.TpEvento,
		Type:        EventType(inf.TpEvento),
		OccurredAt:  parseTime(inf.DhEvento),
		Protocol:    protocol,
		Sequence:    inf.NSeqEvento,
		Description: description,
	}, nil
}

// EventType maps tpEvento codes; codes outside the known set are kept under
// a generic "evento_<code>" type.
func EventType(code string) docdomain.EventType {
	if t, ok := docdomain.EventTypeForCode(code); ok {
		return t
	}
	return docdomain.EventType("evento_" + strings.TrimSpace(code))
}

// protocolStatus maps the cStat of protNFe/protCTe/protMDFe.
func protocolStatus(cStat int) docdomain.Status {
	switch cStat {
	case 100, 150:
		return docdomain.StatusAuthorized
	case 101, 135, 151, 155:
		return docdomain.StatusCancelled
	case 110, 301, 302, 303:
		return docdomain.StatusDenied
	}
	return docdomain.StatusPending
}

func keyedDocument(key string) (*connector.DocumentFields, error) {
	parsed, ok := identifier.ParseAccessKey(key)
	if !ok {
		return nil, ErrMissingKey
	}
	category, ok := docdomain.CategoryForModel(parsed.Model)
	if !ok {
		return nil, fmt.Errorf("dfe: unknown model %s", parsed.Model)
	}
	return &connector.DocumentFields{
		Category:   category,
		AccessKey:  key,
		Number:     int64(parsed.Number),
		Series:     parsed.Series,
		IssuerCNPJ: parsed.IssuerCNPJ,
	}, nil
}

func firstKey(candidates ...string) string {
	for _, c := range candidates {
		if identifier.ValidateAccessKey(c) {
			return c
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime returns UTC; unparseable values yield the zero time.
func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero
	}
	return d
}
