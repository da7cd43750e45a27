package models

type QuoteRequest struct {
	Length              int64 `json:"length" binding:"gte=0"`
	DownloadCount       int64 `json:"downloadCount" binding:"gte=0"`
	ExpiresAfterSeconds int64 `json:"expiresAfterSeconds" binding:"gte=0"`
}

type Quote struct {
	QuoteRequest QuoteRequest `json:"quoteRequest"`
	Satoshis     int64        `json:"satoshis"`
	USD          float64      `json:"usd"`
}
