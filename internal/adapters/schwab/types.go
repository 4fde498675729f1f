package schwab

import (
	"bytes"
	"encoding/json"
)

// DTOs raw del Trader API. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// accountNumber es un item de GET /accounts/accountNumbers.
type accountNumber struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

// accountResponse es la respuesta de GET /accounts/{hash}?fields=positions.
type accountResponse struct {
	SecuritiesAccount securitiesAccount `json:"securitiesAccount"`
}

type securitiesAccount struct {
	Type            string      `json:"type"`
	AccountNumber   string      `json:"accountNumber"`
	Positions       []position  `json:"positions"`
	CurrentBalances rawBalances `json:"currentBalances"`
}

// rawBalances usa punteros: un campo ausente no es lo mismo que un cero.
type rawBalances struct {
	CashBalance             *float64 `json:"cashBalance"`
	TotalCash               *float64 `json:"totalCash"`
	CashAvailableForTrading *float64 `json:"cashAvailableForTrading"`
	BuyingPower             *float64 `json:"buyingPower"`
	DayTradingBuyingPower   *float64 `json:"dayTradingBuyingPower"`
	AvailableFunds          *float64 `json:"availableFunds"`
}

type position struct {
	LongQuantity  float64    `json:"longQuantity"`
	ShortQuantity float64    `json:"shortQuantity"`
	AveragePrice  float64    `json:"averagePrice"`
	MarketValue   float64    `json:"marketValue"`
	Instrument    instrument `json:"instrument"`
}

type instrument struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetType"`
}

// order es un item de GET /accounts/{hash}/orders.
type order struct {
	OrderID            FlexID     `json:"orderId"`
	Status             string     `json:"status"`
	OrderType          string     `json:"orderType"`
	Price              float64    `json:"price"`
	EnteredPrice       float64    `json:"enteredPrice"`
	Quantity           float64    `json:"quantity"`
	OrderLegCollection []orderLeg `json:"orderLegCollection"`
}

// orderRequest es el body de POST /accounts/{hash}/orders.
type orderRequest struct {
	OrderType          string     `json:"orderType"`
	Session            string     `json:"session"`
	Duration           string     `json:"duration"`
	OrderStrategyType  string     `json:"orderStrategyType"`
	Price              string     `json:"price,omitempty"`
	OrderLegCollection []orderLeg `json:"orderLegCollection"`
}

type orderLeg struct {
	Instruction string     `json:"instruction"`
	Quantity    float64    `json:"quantity"`
	Price       float64    `json:"price,omitempty"`
	Instrument  instrument `json:"instrument"`
}

// --- Streamer ---

type userPreference struct {
	StreamerInfo []streamerInfo `json:"streamerInfo"`
}

type streamerInfo struct {
	StreamerSocketURL      string `json:"streamerSocketUrl"`
	SchwabClientCustomerID string `json:"schwabClientCustomerId"`
	SchwabClientCorrelID   string `json:"schwabClientCorrelId"`
	SchwabClientChannel    string `json:"schwabClientChannel"`
	SchwabClientFunctionID string `json:"schwabClientFunctionId"`
}

type streamRequest struct {
	Service                string         `json:"service"`
	Command                string         `json:"command"`
	RequestID              string         `json:"requestid"`
	SchwabClientCustomerID string         `json:"SchwabClientCustomerId"`
	SchwabClientCorrelID   string         `json:"SchwabClientCorrelId"`
	Parameters             map[string]any `json:"parameters"`
}

type streamRequests struct {
	Requests []streamRequest `json:"requests"`
}

// streamMessage cubre las tres formas de mensaje del streamer.
type streamMessage struct {
	Response []streamResponse `json:"response"`
	Data     []streamData     `json:"data"`
	Notify   []map[string]any `json:"notify"`
}

type streamResponse struct {
	Service string `json:"service"`
	Command string `json:"command"`
	Content struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"content"`
}

type streamData struct {
	Service   string          `json:"service"`
	Timestamp int64           `json:"timestamp"`
	Content   []activityEntry `json:"content"`
}

// activityEntry es una fila de ACCT_ACTIVITY: 2 = tipo de mensaje, 3 = payload JSON.
type activityEntry struct {
	Seq         int64  `json:"seq"`
	Key         string `json:"key"`
	Account     string `json:"1"`
	MessageType string `json:"2"`
	MessageData string `json:"3"`
}

// Activity es el payload normalizado de un evento de cuenta. Es también el
// formato que publican los productores del bus NATS.
type Activity struct {
	ActivityType string  `json:"activityType"`
	OrderID      FlexID  `json:"orderId"`
	ExecutionID  string  `json:"executionId"`
	Symbol       string  `json:"symbol"`
	Instruction  string  `json:"instruction"`
	OrderAction  string  `json:"orderAction"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	FillPrice    float64 `json:"fillPrice"`
	Fees         float64 `json:"fees"`
	Timestamp    int64   `json:"timestamp"` // unix millis
}

// FlexID acepta un id como número o como string JSON.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }
