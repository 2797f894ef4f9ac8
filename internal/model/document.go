package model

import "time"

// Document statuses as stored in documents.status.
const (
	DocumentStatusUploaded = "UPLOADED"
	DocumentStatusVerified = "VERIFIED"
	DocumentStatusRejected = "REJECTED"
)

// Document is an uploaded file a user provided to satisfy an eligibility
// requirement, e.g. a transcript or an enrollment certificate.  An
// uploaded but not yet verified document does not block participation;
// the eligibility engine reports it as an open requirement instead.
//
// Fields:
//  ID         – primary key identifier.
//  UserID     – owner of the document.
//  Type       – document type referenced by eligibility rules.
//  OptionID   – option the document is scoped to (nullable).
//  Status     – UPLOADED, VERIFIED or REJECTED.
//  UploadedAt – upload timestamp.
//  VerifiedAt – verification timestamp (nullable).
type Document struct {
	ID         uint64     // documents.id
	UserID     uint64     // documents.user_id
	Type       string     // documents.type
	OptionID   *uint64    // documents.option_id (nullable)
	Status     string     // documents.status
	UploadedAt time.Time  // documents.uploaded_at
	VerifiedAt *time.Time // documents.verified_at (nullable)
}
