// Package models defines the data shared between the ledger, the services
// and the HTTP layer.
package models

import "time"

// File is a row of the files table.
type File struct {
	ID                 uint64
	StorageKey         string
	Length             int64
	InvoicePaid        bool
	Extension          string
	ContentType        string
	DownloadsRemaining int64
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FileInfo is the client-visible view of a file. FileID is the opaque
// token, never the numeric id.
type FileInfo struct {
	FileID             string    `json:"fileId"`
	Length             int64     `json:"length"`
	InvoicePaid        bool      `json:"invoicePaid"`
	ContentType        string    `json:"contentType"`
	DownloadsRemaining int64     `json:"downloadsRemaining"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// FileRecord carries the server-only fields needed to locate a file's blob.
type FileRecord struct {
	Info       FileInfo
	StorageKey string
	CreatedAt  time.Time
}

// RefreshRequest is a pending (or settled) purchase of extra downloads and
// lifetime for an existing file. DownloadsRemaining is the delta to add.
type RefreshRequest struct {
	ID                 int64
	FileID             uint64
	InvoicePaid        bool
	DownloadsRemaining int64
	ExpiresAt          time.Time
	RHash              string
}

// RefreshParams is what a client asks for when extending a file.
type RefreshParams struct {
	DownloadCount       int64 `json:"downloadCount" binding:"gte=0"`
	ExpiresAfterSeconds int64 `json:"expiresAfterSeconds" binding:"gte=0"`
}
