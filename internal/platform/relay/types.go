package relay

// APIQuoteRequest is the body of POST /quote.
type APIQuoteRequest struct {
	User                string `json:"user"`
	Recipient           string `json:"recipient"`
	OriginChainID       int64  `json:"originChainId"`
	DestinationChainID  int64  `json:"destinationChainId"`
	OriginCurrency      string `json:"originCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`
	Amount              string `json:"amount"`
	TradeType           string `json:"tradeType"`
}

// APIQuote is the subset of the quote response the engine needs.
type APIQuote struct {
	Steps   []APIStep  `json:"steps"`
	Details APIDetails `json:"details"`
}

// APIStep is one step of an execution plan. Deposit steps carry the origin
// transaction the user must sign.
type APIStep struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	RequestID string        `json:"requestId"`
	Items     []APIStepItem `json:"items"`
}

// APIStepItem is one transaction in a step.
type APIStepItem struct {
	Status string    `json:"status"`
	Data   APITxData `json:"data"`
}

// APITxData is an unsigned EVM transaction.
type APITxData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
	ChainID int64  `json:"chainId"`
}

// APIDetails summarizes the expected output.
type APIDetails struct {
	CurrencyOut APICurrencyAmount `json:"currencyOut"`
}

// APICurrencyAmount is an amount in base units.
type APICurrencyAmount struct {
	Amount        string `json:"amount"`
	MinimumAmount string `json:"minimumAmount"`
}

// APIStatus is the response of the intent status endpoint.
type APIStatus struct {
	Status     string   `json:"status"`
	InTxHashes []string `json:"inTxHashes"`
	TxHashes   []string `json:"txHashes"`
	Details    string   `json:"details"`
}
