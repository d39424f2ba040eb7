package contracts

// AuthorizationDecision is the outcome of a policy evaluation. Produced
// once per request, embedded unchanged into the audit record.
type AuthorizationDecision struct {
	Authorized bool `json:"authorized"`
	Enforce    bool `json:"enforce"`

	// MaskedTraits maps each redacted trait to its replacement text.
	MaskedTraits map[string]string `json:"maskedTraits,omitempty"`

	// PolicyIDs lists the matched policies in evaluation order.
	// Wire name kept for compatibility with existing SDK interceptors.
	PolicyIDs []int64 `json:"paigPolicyIds"`

	Reason string `json:"reason,omitempty"`

	// FilterExpression is set only for vector-store requests.
	FilterExpression string `json:"filterExpression,omitempty"`
}

// Clone returns a deep copy. Cached decisions are cloned before
// per-request mask values are merged in, so the cached value stays
// untouched.
func (d AuthorizationDecision) Clone() AuthorizationDecision {
	out := d
	if d.MaskedTraits != nil {
		out.MaskedTraits = make(map[string]string, len(d.MaskedTraits))
		for k, v := range d.MaskedTraits {
			out.MaskedTraits[k] = v
		}
	}
	if d.PolicyIDs != nil {
		out.PolicyIDs = append([]int64(nil), d.PolicyIDs...)
	}
	return out
}
