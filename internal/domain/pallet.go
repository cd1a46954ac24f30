package domain

import (
	"encoding/json"
	"fmt"
)

type PalletType int

const (
	PalletTypeUnknown PalletType = iota
	PalletTypeEuroEpal
	PalletTypeEuroEpal2
	PalletTypeDemiPalette
	PalletTypePerdue
)

// PalletTypeCount is the number of valid pallet types.
const PalletTypeCount = 4

var palletTypeNames = [...]string{
	PalletTypeUnknown:     "",
	PalletTypeEuroEpal:    "EURO_EPAL",
	PalletTypeEuroEpal2:   "EURO_EPAL_2",
	PalletTypeDemiPalette: "DEMI_PALETTE",
	PalletTypePerdue:      "PALETTE_PERDUE",
}

func AllPalletTypes() []PalletType {
	return []PalletType{
		PalletTypeEuroEpal,
		PalletTypeEuroEpal2,
		PalletTypeDemiPalette,
		PalletTypePerdue,
	}
}

func ParsePalletType(s string) (PalletType, error) {
	for _, t := range AllPalletTypes() {
		if palletTypeNames[t] == s {
			return t, nil
		}
	}
	return PalletTypeUnknown, &ValidationError{Field: "pallet_type", Message: fmt.Sprintf("unknown pallet type %q", s)}
}

func (t PalletType) Valid() bool {
	return t >= PalletTypeEuroEpal && t <= PalletTypePerdue
}

func (t PalletType) String() string {
	if t < 0 || int(t) >= len(palletTypeNames) {
		return fmt.Sprintf("PalletType(%d)", int(t))
	}
	return palletTypeNames[t]
}

func (t PalletType) index() int {
	return int(t) - 1
}

func (t PalletType) MarshalText() ([]byte, error) {
	if t != PalletTypeUnknown && !t.Valid() {
		return nil, fmt.Errorf("invalid pallet type %d", int(t))
	}
	return []byte(palletTypeNames[t]), nil
}

func (t *PalletType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = PalletTypeUnknown
		return nil
	}
	parsed, err := ParsePalletType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Quantities holds one signed counter per pallet type. It backs ledger
// balances and site capacities.
type Quantities [PalletTypeCount]int64

func (q Quantities) Get(t PalletType) int64 {
	if !t.Valid() {
		return 0
	}
	return q[t.index()]
}

// Add applies delta to the bucket of t and returns the new value.
func (q *Quantities) Add(t PalletType, delta int64) int64 {
	if !t.Valid() {
		return 0
	}
	q[t.index()] += delta
	return q[t.index()]
}

func (q *Quantities) Set(t PalletType, v int64) {
	if t.Valid() {
		q[t.index()] = v
	}
}

func (q Quantities) Total() int64 {
	var total int64
	for _, v := range q {
		total += v
	}
	return total
}

func (q Quantities) MarshalJSON() ([]byte, error) {
	m := make(map[string]int64, PalletTypeCount)
	for _, t := range AllPalletTypes() {
		m[t.String()] = q.Get(t)
	}
	return json.Marshal(m)
}

func (q *Quantities) UnmarshalJSON(b []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out Quantities
	for name, v := range m {
		t, err := ParsePalletType(name)
		if err != nil {
			return err
		}
		out.Set(t, v)
	}
	*q = out
	return nil
}

func QuantitiesOf(euroEpal, euroEpal2, demi, perdue int64) Quantities {
	return Quantities{euroEpal, euroEpal2, demi, perdue}
}
