package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Fingerprint derives the deterministic cache key for a decision:
// identical (application, subject, groups, traits, channel) tuples hash
// to the same value regardless of input ordering or emitting process.
func Fingerprint(applicationKey, userID string, groups, traits []string, requestType RequestType) (string, error) {
	sortedGroups := append([]string(nil), groups...)
	sort.Strings(sortedGroups)
	sortedTraits := append([]string(nil), traits...)
	sort.Strings(sortedTraits)

	input := struct {
		ApplicationKey string   `json:"applicationKey"`
		UserID         string   `json:"userId"`
		Groups         []string `json:"groups"`
		Traits         []string `json:"traits"`
		RequestType    string   `json:"requestType"`
	}{applicationKey, userID, sortedGroups, sortedTraits, string(requestType)}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("contracts: marshal fingerprint input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("contracts: canonicalize fingerprint input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
