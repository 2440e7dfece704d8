package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
)

// Patch is an explicit partial update applied to one session. A nil
// pointer means "leave the field untouched"; clearing a field requires
// the matching Clear flag. ExternalToken in particular can only be
// replaced, never implicitly nulled, which makes the token-preservation
// invariant mechanical rather than conventional.
type Patch struct {
	Status *providerdomain.Status

	Identity      *providerdomain.Identity
	ClearIdentity bool

	PairingData      *string
	PairingExpiresAt *time.Time
	ClearPairing     bool

	ExternalToken *string

	WebhookRegisteredAt *time.Time

	TenantID *snowflake.ID
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Status == nil &&
		p.Identity == nil && !p.ClearIdentity &&
		p.PairingData == nil && p.PairingExpiresAt == nil && !p.ClearPairing &&
		p.ExternalToken == nil &&
		p.WebhookRegisteredAt == nil &&
		p.TenantID == nil
}

func jsonUnmarshal(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
