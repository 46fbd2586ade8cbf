package certificate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// Canonical serializes the hashed fields with sorted keys and fixed numeric
// precision. Status, revocation and ledger ref are excluded.
func Canonical(c *Certificate) ([]byte, error) {
	fields := map[string]string{
		"certificate_id": c.ID.String(),
		"claim_id":       c.ClaimID.String(),
		"confidence":     strconv.FormatFloat(c.Confidence, 'f', 4, 64),
		"damage_amount":  strconv.FormatFloat(c.DamageAmount, 'f', 2, 64),
		"damage_type":    c.DamageType,
		"farmer_id":      c.FarmerID.String(),
		"issued_at":      c.IssuedAt.UTC().Format(time.RFC3339Nano),
		"latitude":       strconv.FormatFloat(c.Location.Latitude, 'f', 6, 64),
		"longitude":      strconv.FormatFloat(c.Location.Longitude, 'f', 6, 64),
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(fields)
}

// Hash is the hex sha256 of the canonical form.
func Hash(c *Certificate) (string, error) {
	body, err := Canonical(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
