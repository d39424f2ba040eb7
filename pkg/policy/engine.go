package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/cache"
	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/filter"
	"github.com/wardenlabs/warden/pkg/observability"
)

// EngineConfig tunes decision behavior.
type EngineConfig struct {
	// FailOpen allows requests whose traits no active policy covers.
	// Off by default: an uncovered trait denies.
	FailOpen bool

	// StoreTimeout bounds one policy store query. Zero means 2s.
	StoreTimeout time.Duration

	// CacheCapacity and CacheMaxIdle size the decision cache. Zero
	// capacity disables caching.
	CacheCapacity int
	CacheMaxIdle  time.Duration

	// CacheMaxAge bounds a cached decision's total lifetime so a hot
	// fingerprint cannot outlive a policy change. Zero means 10m.
	CacheMaxAge time.Duration

	// Telem records cache hit/miss metrics. May be nil.
	Telem *observability.Provider
}

// Engine evaluates authorization requests against tenant policies with
// deny-overrides precedence and caches decisions by request
// fingerprint.
type Engine struct {
	store   Store
	cfg     EngineConfig
	cond    *conditionEvaluator
	filters *filter.Registry
	cache   *cache.Cache[string, *contracts.AuthorizationDecision]
	log     *slog.Logger
}

// NewEngine builds an Engine over store.
func NewEngine(store Store, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	cond, err := newConditionEvaluator()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:   store,
		cfg:     cfg,
		cond:    cond,
		filters: filter.NewRegistry(),
		log:     logger,
	}
	if cfg.CacheCapacity > 0 {
		maxIdle := cfg.CacheMaxIdle
		if maxIdle <= 0 {
			maxIdle = 2 * time.Minute
		}
		maxAge := cfg.CacheMaxAge
		if maxAge <= 0 {
			maxAge = 10 * time.Minute
		}
		e.cache = cache.New(cache.Options[string, *contracts.AuthorizationDecision]{
			Capacity: cfg.CacheCapacity,
			MaxIdle:  maxIdle,
			MaxAge:   maxAge,
			OnEvict: func(key string, _ *contracts.AuthorizationDecision) {
				logger.Debug("decision evicted from cache", "fingerprint", key)
			},
		})
	}
	return e, nil
}

// Close releases the decision cache.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// CacheStats reports decision cache counters; zeros when caching is
// disabled.
func (e *Engine) CacheStats() (hits, misses uint64) {
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.Stats()
}

// InvalidateCache drops every cached decision. Call after policy
// mutation so stale grants stop being served before their idle expiry.
func (e *Engine) InvalidateCache() {
	if e.cache == nil {
		return
	}
	for _, k := range e.cache.Keys() {
		e.cache.Remove(k)
	}
}

// Authorize evaluates req. maskValues carries the scanner-produced
// replacement text per trait; only traits a REDACT policy matches end
// up in the decision's MaskedTraits.
//
// The decision is cached by fingerprint. A cache hit re-merges the
// current maskValues onto a copy, so two requests with identical
// fingerprints but different content each get their own redactions.
func (e *Engine) Authorize(ctx context.Context, req *contracts.AuthorizationRequest, maskValues map[string]string) (*contracts.AuthorizationDecision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key, err := contracts.Fingerprint(req.ApplicationKey, req.UserID, req.Groups, req.Traits, req.RequestType)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		cached, ok := e.cache.Get(key)
		e.cfg.Telem.RecordCacheLookup(ctx, ok)
		if ok {
			out := cached.Clone()
			return e.applyMasks(&out, maskValues), nil
		}
	}

	decision, err := e.evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Put(key, decision)
	}
	out := decision.Clone()
	return e.applyMasks(&out, maskValues), nil
}

// evaluate computes a decision from the store, ignoring the cache. The
// returned decision has MaskedTraits keyed by trait name with empty
// values; applyMasks fills them in per request.
func (e *Engine) evaluate(ctx context.Context, req *contracts.AuthorizationRequest) (*contracts.AuthorizationDecision, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	policies, err := e.store.ActivePolicies(sctx, req.ApplicationKey, req.Traits)
	if err != nil {
		e.log.Error("policy store query failed, failing closed",
			"tenantId", req.TenantID, "applicationKey", req.ApplicationKey, "error", err)
		return nil, fmt.Errorf("policy: load active policies: %w", errors.Join(ErrStoreUnavailable, err))
	}

	denied := false
	var deniedPolicy int64
	allowedTraits := make(map[string]bool, len(req.Traits))
	redacted := make(map[string]bool)
	policyIDs := make([]int64, 0, len(policies))

	for i := range policies {
		p := &policies[i]
		perm, ok := p.Permissions[req.RequestType]
		if !ok {
			continue
		}

		match := p.matchSubject(req.UserID, req.Groups, req.Roles)
		if match == matchNone {
			continue
		}

		condMatch, condErr := e.cond.Matches(p.Condition, req.UserID, req.Groups, req.Context)
		if condErr != nil {
			e.log.Warn("policy condition failed, treating as unmatched",
				"policyId", p.ID, "error", condErr)
			continue
		}
		if !condMatch {
			continue
		}

		traits := p.matchedTraits(req.Traits)
		policyIDs = append(policyIDs, p.ID)

		// A subject on a deny list denies regardless of the channel
		// permission; deny-overrides also wins over any later ALLOW.
		if match == matchDenied || perm == PermissionDeny {
			denied = true
			if deniedPolicy == 0 {
				deniedPolicy = p.ID
			}
			continue
		}

		for _, tr := range traits {
			allowedTraits[tr] = true
			if perm == PermissionRedact {
				redacted[tr] = true
			}
		}
	}

	if denied {
		return &contracts.AuthorizationDecision{
			Authorized: false,
			Enforce:    true,
			PolicyIDs:  policyIDs,
			Reason:     fmt.Sprintf("denied by policy %d", deniedPolicy),
		}, nil
	}

	for _, tr := range req.Traits {
		if allowedTraits[tr] {
			continue
		}
		if e.cfg.FailOpen {
			e.log.Warn("trait not covered by any policy, fail-open allows",
				"trait", tr, "applicationKey", req.ApplicationKey)
			continue
		}
		return &contracts.AuthorizationDecision{
			Authorized: false,
			Enforce:    true,
			PolicyIDs:  policyIDs,
			Reason:     fmt.Sprintf("no policy covers trait %q", tr),
		}, nil
	}

	decision := &contracts.AuthorizationDecision{
		Authorized: true,
		Enforce:    true,
		PolicyIDs:  policyIDs,
	}
	if len(redacted) > 0 {
		decision.MaskedTraits = make(map[string]string, len(redacted))
		for tr := range redacted {
			decision.MaskedTraits[tr] = ""
		}
	}
	return decision, nil
}

// applyMasks fills the redaction placeholders with the scanner values
// of this request. Traits with no scanner value keep the generic mask.
func (e *Engine) applyMasks(d *contracts.AuthorizationDecision, maskValues map[string]string) *contracts.AuthorizationDecision {
	for tr := range d.MaskedTraits {
		if v, ok := maskValues[tr]; ok && v != "" {
			d.MaskedTraits[tr] = v
		} else {
			d.MaskedTraits[tr] = "<<" + tr + ">>"
		}
	}
	return d
}

// AuthorizeVectorStore narrows a vector store query to the documents
// the subject may read. The decision is always authorized; enforcement
// happens through the compiled filter expression.
func (e *Engine) AuthorizeVectorStore(ctx context.Context, req *contracts.VectorStoreAuthzRequest) (*contracts.AuthorizationDecision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	cfg, err := e.store.VectorStoreConfig(sctx, req.VectorStoreID)
	if err != nil {
		return nil, fmt.Errorf("policy: load vector store %q: %w", req.VectorStoreID, err)
	}
	rows, err := e.store.VectorStorePolicies(sctx, req.VectorStoreID)
	if err != nil {
		return nil, fmt.Errorf("policy: load vector store policies: %w", errors.Join(ErrStoreUnavailable, err))
	}

	compiler, err := e.filters.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	in := filter.Input{
		User:             req.UserID,
		Groups:           req.Groups,
		UserEnforcement:  cfg.UserEnforcement,
		GroupEnforcement: cfg.GroupEnforcement,
	}
	policyIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		if !vectorRowApplies(&row, req.UserID, req.Groups) {
			continue
		}
		policyIDs = append(policyIDs, row.ID)
		in.Rows = append(in.Rows, filter.Row{
			PolicyID: row.ID,
			Key:      row.MetadataKey,
			Operator: row.Operator,
			Value:    row.MetadataValue,
		})
	}

	expr, err := compiler.Compile(in)
	if err != nil {
		return nil, fmt.Errorf("policy: compile %s filter: %w", cfg.Provider, err)
	}
	return &contracts.AuthorizationDecision{
		Authorized:       true,
		Enforce:          true,
		PolicyIDs:        policyIDs,
		FilterExpression: expr,
	}, nil
}

// vectorRowApplies tests whether one vector store policy row restricts
// this subject. Denied membership excludes the row; with no allow sets
// the row applies to everyone.
func vectorRowApplies(row *VectorStorePolicy, userID string, groups []string) bool {
	if contains(row.DeniedUsers, userID) || intersects(row.DeniedGroups, groups) {
		return false
	}
	if len(row.AllowedUsers) == 0 && len(row.AllowedGroups) == 0 {
		return true
	}
	return contains(row.AllowedUsers, userID) ||
		intersects(row.AllowedGroups, groups) ||
		contains(row.AllowedGroups, PublicGroup)
}
