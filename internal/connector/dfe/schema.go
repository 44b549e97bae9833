package dfe

import "encoding/xml"

const (
	NamespaceNFe  = "http://www.portalfiscal.inf.br/nfe"
	NamespaceCTe  = "http://www.portalfiscal.inf.br/cte"
	NamespaceMDFe = "http://www.portalfiscal.inf.br/mdfe"
)

type party struct {
	CNPJ  string `xml:"CNPJ,omitempty"`
	CPF   string `xml:"CPF,omitempty"`
	XNome string `xml:"xNome,omitempty"`
}

type ide struct {
	Mod    string `xml:"mod"`
	Serie  int    `xml:"serie"`
	NNF    int64  `xml:"nNF,omitempty"`
	NCT    int64  `xml:"nCT,omitempty"`
	NMDF   int64  `xml:"nMDF,omitempty"`
	DhEmi  string `xml:"dhEmi"`
	TpEmis int    `xml:"tpEmis,omitempty"`
}

type infProt struct {
	ChNFe    string `xml:"chNFe,omitempty"`
	ChCTe    string `xml:"chCTe,omitempty"`
	ChMDFe   string `xml:"chMDFe,omitempty"`
	DhRecbto string `xml:"dhRecbto,omitempty"`
	NProt    string `xml:"nProt,omitempty"`
	CStat    int    `xml:"cStat"`
	XMotivo  string `xml:"xMotivo,omitempty"`
}

type protocol struct {
	InfProt infProt `xml:"infProt"`
}

type nfeProc struct {
	XMLName xml.Name `xml:"nfeProc"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Versao  string   `xml:"versao,attr,omitempty"`
	NFe     struct {
		InfNFe struct {
			ID    string `xml:"Id,attr"`
			Ide   ide    `xml:"ide"`
			Emit  party  `xml:"emit"`
			Dest  party  `xml:"dest"`
			Total struct {
				ICMSTot struct {
					VNF string `xml:"vNF"`
				} `xml:"ICMSTot"`
			} `xml:"total"`
		} `xml:"infNFe"`
	} `xml:"NFe"`
	ProtNFe protocol `xml:"protNFe"`
}

type cteProc struct {
	XMLName xml.Name `xml:"cteProc"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Versao  string   `xml:"versao,attr,omitempty"`
	CTe     struct {
		InfCte struct {
			ID     string `xml:"Id,attr"`
			Ide    ide    `xml:"ide"`
			Emit   party  `xml:"emit"`
			Dest   party  `xml:"dest"`
			VPrest struct {
				VTPrest string `xml:"vTPrest"`
			} `xml:"vPrest"`
		} `xml:"infCte"`
	} `xml:"CTe"`
	ProtCTe protocol `xml:"protCTe"`
}

type mdfeProc struct {
	XMLName xml.Name `xml:"mdfeProc"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Versao  string   `xml:"versao,attr,omitempty"`
	MDFe    struct {
		InfMDFe struct {
			ID   string `xml:"Id,attr"`
			Ide  ide    `xml:"ide"`
			Emit party  `xml:"emit"`
			Tot  struct {
				VCarga string `xml:"vCarga"`
			} `xml:"tot"`
		} `xml:"infMDFe"`
	} `xml:"MDFe"`
	ProtMDFe protocol `xml:"protMDFe"`
}

// resNFe is the digest the distribution service sends to the recipient
// before the recipient manifests on the document.
type resNFe struct {
	XMLName xml.Name `xml:"resNFe"`
	ChNFe   string   `xml:"chNFe"`
	CNPJ    string   `xml:"CNPJ"`
	XNome   string   `xml:"xNome"`
	DhEmi   string   `xml:"dhEmi"`
	VNF     string   `xml:"vNF"`
	NProt   string   `xml:"nProt"`
	CSitNFe int      `xml:"cSitNFe"`
}

type resEvento struct {
	XMLName    xml.Name `xml:"resEvento"`
	CNPJ       string   `xml:"CNPJ"`
	ChNFe      string   `xml:"chNFe"`
	DhEvento   string   `xml:"dhEvento"`
	TpEvento   string   `xml:"tpEvento"`
	NSeqEvento int      `xml:"nSeqEvento"`
	XEvento    string   `xml:"xEvento"`
	NProt      string   `xml:"nProt"`
}

type infEvento struct {
	ID         string `xml:"Id,attr,omitempty"`
	CNPJ       string `xml:"CNPJ,omitempty"`
	ChNFe      string `xml:"chNFe,omitempty"`
	ChCTe      string `xml:"chCTe,omitempty"`
	ChMDFe     string `xml:"chMDFe,omitempty"`
	DhEvento   string `xml:"dhEvento"`
	TpEvento   string `xml:"tpEvento"`
	NSeqEvento int    `xml:"nSeqEvento"`
	DetEvento  struct {
		DescEvento string `xml:"descEvento"`
		XJust      string `xml:"xJust,omitempty"`
		XCorrecao  string `xml:"xCorrecao,omitempty"`
	} `xml:"detEvento"`
}

type retInfEvento struct {
	CStat       int    `xml:"cStat"`
	XMotivo     string `xml:"xMotivo,omitempty"`
	NProt       string `xml:"nProt"`
	DhRegEvento string `xml:"dhRegEvento,omitempty"`
}

type procEvento struct {
	XMLName xml.Name `xml:""`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Versao  string   `xml:"versao,attr,omitempty"`
	Evento  *struct {
		InfEvento infEvento `xml:"infEvento"`
	} `xml:"evento"`
	EventoCTe *struct {
		InfEvento infEvento `xml:"infEvento"`
	} `xml:"eventoCTe"`
	EventoMDFe *struct {
		InfEvento infEvento `xml:"infEvento"`
	} `xml:"eventoMDFe"`
	RetEvento *struct {
		InfEvento retInfEvento `xml:"infEvento"`
	} `xml:"retEvento"`
	RetEventoCTe *struct {
		InfEvento retInfEvento `xml:"infEvento"`
	} `xml:"retEventoCTe"`
	RetEventoMDFe *struct {
		InfEvento retInfEvento `xml:"infEvento"`
	} `xml:"retEventoMDFe"`
}

// compNfse is a trimmed ABRASF CompNfse. Municipal services have no national
// access key; documents are identified by provider CNPJ and number.
type compNfse struct {
	XMLName xml.Name `xml:"CompNfse"`
	InfNfse struct {
		Numero            int64  `xml:"Numero"`
		CodigoVerificacao string `xml:"CodigoVerificacao"`
		DataEmissao       string `xml:"DataEmissao"`
		Prestador         struct {
			Cnpj        string `xml:"Cnpj"`
			RazaoSocial string `xml:"RazaoSocial"`
		} `xml:"Prestador"`
		Tomador struct {
			Cnpj        string `xml:"Cnpj"`
			RazaoSocial string `xml:"RazaoSocial"`
		} `xml:"Tomador"`
		ValorServicos string `xml:"ValorServicos"`
		Cancelada     bool   `xml:"Cancelada,omitempty"`
	} `xml:"InfNfse"`
}
