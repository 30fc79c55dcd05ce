package domain

import "time"

// VaultFile is the metadata of an owner-encrypted payload. The bytes live in
// the blob store under Bucket/StorageKey.
type VaultFile struct {
	FileID      string    `json:"id" dynamodbav:"file_id"`
	Name        string    `json:"name" dynamodbav:"name"`
	ContentType string    `json:"content_type" dynamodbav:"content_type"`
	Size        int64     `json:"size" dynamodbav:"size"`
	Hash        string    `json:"hash" dynamodbav:"hash"`
	Bucket      string    `json:"-" dynamodbav:"bucket"`
	StorageKey  string    `json:"-" dynamodbav:"storage_key"`
	UploadedAt  time.Time `json:"uploaded_at" dynamodbav:"uploaded_at"`
}

type UploadFileInput struct {
	FileName    string `json:"file_name" validate:"required,max=255"`
	ContentType string `json:"content_type"`
	Base64      string `json:"base64" validate:"required,base64"`
}
