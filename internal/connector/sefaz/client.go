package sefaz

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/smallbiznis/fiscalsync/internal/connector/dfe"
	connector "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
)

const (
	soapNamespace = "http://www.w3.org/2003/05/soap-envelope"

	// maxResponseBytes bounds a distribution page (50 docZip entries).
	maxResponseBytes = 16 << 20

	statusNoDocuments = 137
	statusDocuments   = 138
	statusRateLimited = 656
)

// endpoint describes the distribution web service of one document family.
type endpoint struct {
	operation string
	wsdl      string
	dadosMsg  string
	namespace string
	version   string
}

var endpoints = map[docdomain.Category]endpoint{
	docdomain.CategoryNFe: {
		operation: "nfeDistDFeInteresse",
		wsdl:      "http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe",
		dadosMsg:  "nfeDadosMsg",
		namespace: dfe.NamespaceNFe,
		version:   "1.01",
	},
	docdomain.CategoryNFCe: {
		operation: "nfeDistDFeInteresse",
		wsdl:      "http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe",
		dadosMsg:  "nfeDadosMsg",
		namespace: dfe.NamespaceNFe,
		version:   "1.01",
	},
	docdomain.CategoryCTe: {
		operation: "cteDistDFeInteresse",
		wsdl:      "http://www.portalfiscal.inf.br/cte/wsdl/CTeDistribuicaoDFe",
		dadosMsg:  "cteDadosMsg",
		namespace: dfe.NamespaceCTe,
		version:   "1.00",
	},
	docdomain.CategoryMDFe: {
		operation: "mdfeDistDFeInteresse",
		wsdl:      "http://www.portalfiscal.inf.br/mdfe/wsdl/MDFeDistribuicaoDFe",
		dadosMsg:  "mdfeDadosMsg",
		namespace: dfe.NamespaceMDFe,
		version:   "3.00",
	},
}

type nsuQuery struct {
	UltNSU string `xml:"ultNSU"`
}

type consChave struct {
	ChNFe string `xml:"chNFe"`
}

type distDFeInt struct {
	XMLName   xml.Name   `xml:"distDFeInt"`
	Xmlns     string     `xml:"xmlns,attr"`
	Versao    string     `xml:"versao,attr"`
	TpAmb     int        `xml:"tpAmb"`
	CUFAutor  string     `xml:"cUFAutor,omitempty"`
	CNPJ      string     `xml:"CNPJ"`
	DistNSU   *nsuQuery  `xml:"distNSU,omitempty"`
	ConsChNFe *consChave `xml:"consChNFe,omitempty"`
}

type docZip struct {
	NSU    string `xml:"NSU,attr"`
	Schema string `xml:"schema,attr"`
	Value  string `xml:",chardata"`
}

type retDistDFeInt struct {
	TpAmb   int    `xml:"tpAmb"`
	CStat   int    `xml:"cStat"`
	XMotivo string `xml:"xMotivo"`
	DhResp  string `xml:"dhResp"`
	UltNSU  string `xml:"ultNSU"`
	MaxNSU  string `xml:"maxNSU"`
	Lote    struct {
		DocZip []docZip `xml:"docZip"`
	} `xml:"loteDistDFeInt"`
}

func (r retDistDFeInt) ultNSU() int64 { return parseNSU(r.UltNSU) }
func (r retDistDFeInt) maxNSU() int64 { return parseNSU(r.MaxNSU) }

func parseNSU(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatNSU(n int64) string {
	return fmt.Sprintf("%015d", n)
}

type client struct {
	http     *http.Client
	url      string
	endpoint endpoint
}

func envelope(ep endpoint, msg distDFeInt) ([]byte, error) {
	msg.Xmlns = ep.namespace
	msg.Versao = ep.version
	inner, err := xml.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<soap12:Envelope xmlns:soap12=%q><soap12:Body>`, soapNamespace)
	fmt.Fprintf(&buf, `<%s xmlns=%q><%s>`, ep.operation, ep.wsdl, ep.dadosMsg)
	buf.Write(inner)
	fmt.Fprintf(&buf, `</%s></%s></soap12:Body></soap12:Envelope>`, ep.dadosMsg, ep.operation)
	return buf.Bytes(), nil
}

// call posts one distDFeInt request and returns the unwrapped response.
func (c *client) call(ctx context.Context, msg distDFeInt) (*retDistDFeInt, error) {
	body, err := envelope(c.endpoint, msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fiscalerr.Wrap(connector.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s/%s"`, c.endpoint.wsdl, c.endpoint.operation))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fiscalerr.Wrap(connector.ErrUpstream, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fiscalerr.Wrap(connector.ErrUpstream, err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, fiscalerr.Wrap(connector.ErrAuthorityRejected, fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, fiscalerr.Wrap(connector.ErrUpstream, fmt.Errorf("http %d", resp.StatusCode))
	}

	ret, err := unwrapResponse(payload)
	if err != nil {
		return nil, fiscalerr.Wrap(connector.ErrMalformedResponse, err)
	}
	return ret, nil
}

// unwrapResponse finds retDistDFeInt anywhere in the SOAP envelope.
func unwrapResponse(payload []byte) (*retDistDFeInt, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("retDistDFeInt not found")
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "retDistDFeInt" {
			continue
		}
		var ret retDistDFeInt
		if err := dec.DecodeElement(&ret, &start); err != nil {
			return nil, err
		}
		return &ret, nil
	}
}

// classify maps a non-success cStat to the error taxonomy.
func classify(ret *retDistDFeInt) error {
	cause := fmt.Errorf("cStat %d: %s", ret.CStat, strings.TrimSpace(ret.XMotivo))
	switch {
	case ret.CStat == statusRateLimited:
		return fiscalerr.Wrap(connector.ErrRateLimited, cause)
	case ret.CStat >= 280 && ret.CStat <= 299,
		ret.CStat == 213, ret.CStat == 214,
		ret.CStat == 593, ret.CStat == 594, ret.CStat == 641:
		// certificate, CNPJ-to-certificate and authorization failures
		return fiscalerr.Wrap(connector.ErrAuthorityRejected, cause)
	}
	return fiscalerr.Wrap(connector.ErrAuthorityFailure, cause)
}
