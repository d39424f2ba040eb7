// Package contracts defines the wire types exchanged between protected
// applications and the governance core: authorization requests, decisions
// and audit records.
//
// Field names are a stable JSON contract (camelCase). Clients round-trip
// these payloads byte-for-byte; renaming a tag is a breaking change.
package contracts

import (
	"errors"
	"fmt"
	"time"
)

// RequestType identifies the channel a message travels on.
type RequestType string

const (
	RequestTypePrompt         RequestType = "prompt"
	RequestTypeReply          RequestType = "reply"
	RequestTypeEnrichedPrompt RequestType = "enriched_prompt"
	RequestTypeRAG            RequestType = "rag"
)

// ErrBadRequest marks a payload that is missing a mandatory field.
// Surfaced to the caller as-is; never retried.
var ErrBadRequest = errors.New("bad request")

// AuthorizationRequest is the inbound decision request. It is immutable
// once built: constructed per call, discarded after the audit enqueue.
type AuthorizationRequest struct {
	TenantID             string         `json:"tenantId"`
	ApplicationKey       string         `json:"applicationKey"`
	ClientApplicationKey string         `json:"clientApplicationKey,omitempty"`
	ConversationID       string         `json:"conversationId,omitempty"`
	ThreadID             string         `json:"threadId"`
	RequestID            string         `json:"requestId"`
	SequenceNumber       int64          `json:"sequenceNumber"`
	RequestType          RequestType    `json:"requestType"`
	UserID               string         `json:"userId"`
	Roles                []string       `json:"roles,omitempty"`
	Groups               []string       `json:"groups,omitempty"`
	Traits               []string       `json:"traits,omitempty"`
	RequestText          []string       `json:"requestText,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
	RequestTime          time.Time      `json:"requestDateTime"`
}

// Validate checks the mandatory fields. A failure wraps ErrBadRequest.
func (r *AuthorizationRequest) Validate() error {
	switch {
	case r.ApplicationKey == "":
		return fmt.Errorf("%w: applicationKey is required", ErrBadRequest)
	case r.RequestID == "":
		return fmt.Errorf("%w: requestId is required", ErrBadRequest)
	case r.ThreadID == "":
		return fmt.Errorf("%w: threadId is required", ErrBadRequest)
	case r.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrBadRequest)
	}
	switch r.RequestType {
	case RequestTypePrompt, RequestTypeReply, RequestTypeEnrichedPrompt, RequestTypeRAG:
	default:
		return fmt.Errorf("%w: unknown requestType %q", ErrBadRequest, r.RequestType)
	}
	return nil
}

// VectorStoreAuthzRequest asks for the per-user metadata filter of a
// retrieval-augmented read against one vector store.
type VectorStoreAuthzRequest struct {
	TenantID       string   `json:"tenantId"`
	ApplicationKey string   `json:"applicationKey"`
	VectorStoreID  string   `json:"vectorStoreId"`
	RequestID      string   `json:"requestId"`
	UserID         string   `json:"userId"`
	Groups         []string `json:"groups,omitempty"`
}

// Validate checks the mandatory fields. A failure wraps ErrBadRequest.
func (r *VectorStoreAuthzRequest) Validate() error {
	switch {
	case r.ApplicationKey == "":
		return fmt.Errorf("%w: applicationKey is required", ErrBadRequest)
	case r.VectorStoreID == "":
		return fmt.Errorf("%w: vectorStoreId is required", ErrBadRequest)
	case r.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrBadRequest)
	}
	return nil
}
