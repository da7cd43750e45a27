package models

import "time"

// InvoiceRecord is a row of the invoices table. Memo is the file token.
type InvoiceRecord struct {
	ID     int64
	Memo   string
	Bolt11 string
	RHash  string
}

// IssuedInvoice is what the payment backend handed back for a new invoice.
type IssuedInvoice struct {
	Bolt11    string
	RHash     string
	ExpiresAt time.Time
}

// Invoice is returned to clients after an upload or refresh. PrivateKey is
// only set for uploads.
type Invoice struct {
	FileInfo   FileInfo  `json:"fileInfo"`
	Bolt11     string    `json:"bolt11"`
	ExpiresAt  time.Time `json:"expiresAt"`
	PrivateKey string    `json:"privateKey,omitempty"`
}

// Settlement is a payment backend's view of one invoice.
type Settlement struct {
	Memo    string
	RHash   string
	Settled bool
}
