package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// AuditRecord captures one full governed transaction: the request, the
// decision, and the (encrypted) masked content. Records carry a stable
// RecordID so sinks can de-duplicate under at-least-once delivery.
type AuditRecord struct {
	RecordID       string                `json:"recordId"`
	TenantID       string                `json:"tenantId"`
	ApplicationKey string                `json:"applicationKey"`
	ConversationID string                `json:"conversationId,omitempty"`
	ThreadID       string                `json:"threadId"`
	RequestID      string                `json:"requestId"`
	SequenceNumber int64                 `json:"sequenceNumber"`
	RequestType    RequestType           `json:"requestType"`
	UserID         string                `json:"userId"`
	Traits         []string              `json:"traits,omitempty"`
	Decision       AuthorizationDecision `json:"decision"`

	// MaskedContent is the redacted request text, encrypted under the
	// key identified by EncryptionKeyID. Empty when nothing was masked.
	MaskedContent   string `json:"maskedContent,omitempty"`
	EncryptionKeyID string `json:"encryptionKeyId,omitempty"`

	RequestTime time.Time `json:"requestDateTime"`
	EventTime   time.Time `json:"eventTime"`

	// PayloadHash is the canonical hash of the record minus this field.
	PayloadHash string `json:"payloadHash,omitempty"`
}

// NewAuditRecord builds a record from a request and its decision.
func NewAuditRecord(req *AuthorizationRequest, decision AuthorizationDecision) *AuditRecord {
	return &AuditRecord{
		RecordID:       uuid.New().String(),
		TenantID:       req.TenantID,
		ApplicationKey: req.ApplicationKey,
		ConversationID: req.ConversationID,
		ThreadID:       req.ThreadID,
		RequestID:      req.RequestID,
		SequenceNumber: req.SequenceNumber,
		RequestType:    req.RequestType,
		UserID:         req.UserID,
		Traits:         append([]string(nil), req.Traits...),
		Decision:       decision,
		RequestTime:    req.RequestTime,
		EventTime:      time.Now().UTC(),
	}
}

// ComputeHash fills PayloadHash with the SHA-256 of the JCS-canonical
// record (hash field excluded, so the value is reproducible by readers).
func (r *AuditRecord) ComputeHash() error {
	shadow := *r
	shadow.PayloadHash = ""
	raw, err := json.Marshal(&shadow)
	if err != nil {
		return fmt.Errorf("contracts: marshal audit record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("contracts: canonicalize audit record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	r.PayloadHash = "sha256:" + hex.EncodeToString(sum[:])
	return nil
}
