package linkvalue

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hrissan/sddr/sddrrand"
)

// LinkValue is an opaque pre-shared secret identifying a relationship.
type LinkValue []byte

func Random(rnd sddrrand.Rand, size int) LinkValue {
	v := make(LinkValue, size)
	rnd.Read(v)
	return v
}

func (v LinkValue) Equal(other LinkValue) bool {
	return bytes.Equal(v, other)
}

// Key is usable as a map key.
func (v LinkValue) Key() string { return string(v) }

func (v LinkValue) Clone() LinkValue {
	return append(LinkValue(nil), v...)
}

func (v LinkValue) String() string { return hex.EncodeToString(v) }

func (v LinkValue) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(v)), nil
}

func (v *LinkValue) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("link value must be hex: %w", err)
	}
	*v = b
	return nil
}

// Contains is linear, sets are at most a few hundred values.
func Contains(set []LinkValue, v LinkValue) bool {
	for _, s := range set {
		if s.Equal(v) {
			return true
		}
	}
	return false
}

// Confirm is a bit set: Hybrid has both Passive and Active bits.
type Confirm uint8

const (
	ConfirmNone    Confirm = 0
	ConfirmPassive Confirm = 1
	ConfirmActive  Confirm = 2
	ConfirmHybrid  Confirm = ConfirmPassive | ConfirmActive
)

func (c Confirm) Has(bit Confirm) bool { return c&bit != 0 }

func (c Confirm) String() string {
	switch c {
	case ConfirmNone:
		return "none"
	case ConfirmPassive:
		return "passive"
	case ConfirmActive:
		return "active"
	case ConfirmHybrid:
		return "hybrid"
	}
	return fmt.Sprintf("confirm(%d)", uint8(c))
}

func ParseConfirm(s string) (Confirm, error) {
	switch strings.ToLower(s) {
	case "none":
		return ConfirmNone, nil
	case "passive":
		return ConfirmPassive, nil
	case "active":
		return ConfirmActive, nil
	case "hybrid":
		return ConfirmHybrid, nil
	}
	return 0, fmt.Errorf("unknown confirm scheme %q", s)
}

func (c Confirm) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Confirm) UnmarshalText(text []byte) error {
	v, err := ParseConfirm(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// SharedSecret is a candidate link value derived from a key exchange.
// PFalse is the probability that the peer does not actually hold it.
type SharedSecret struct {
	Value       LinkValue `json:"value"`
	PFalse      float64   `json:"p_false"`
	Confirmed   bool      `json:"confirmed"`
	ConfirmedBy Confirm   `json:"confirmed_by"`
}

func NewSharedSecret(value LinkValue, confirmed bool) SharedSecret {
	s := SharedSecret{Value: value, PFalse: 1, Confirmed: confirmed}
	if confirmed {
		s.PFalse = 0
	}
	return s
}

func NewConfirmedSecret(value LinkValue, by Confirm) SharedSecret {
	return SharedSecret{Value: value, PFalse: 0, Confirmed: true, ConfirmedBy: by}
}
