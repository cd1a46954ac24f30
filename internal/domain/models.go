package domain

import "time"

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BoundingBox is a latitude/longitude rectangle used to pre-filter sites
// before the exact distance check.
type BoundingBox struct {
	MinLatitude  float64 `json:"min_latitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

func (b BoundingBox) Contains(p GeoPoint) bool {
	if p.Latitude < b.MinLatitude || p.Latitude > b.MaxLatitude {
		return false
	}
	if b.WrapsAntimeridian() {
		return p.Longitude >= b.MinLongitude || p.Longitude <= b.MaxLongitude
	}
	return p.Longitude >= b.MinLongitude && p.Longitude <= b.MaxLongitude
}

// WrapsAntimeridian reports whether the box crosses longitude ±180, in which
// case it covers MinLongitude..180 and -180..MaxLongitude.
func (b BoundingBox) WrapsAntimeridian() bool {
	return b.MinLongitude > b.MaxLongitude
}

type ChequeStatus string

const (
	ChequeStatusIssued    ChequeStatus = "ISSUED"
	ChequeStatusInTransit ChequeStatus = "IN_TRANSIT"
	ChequeStatusDeposited ChequeStatus = "DEPOSITED"
	ChequeStatusReceived  ChequeStatus = "RECEIVED"
	ChequeStatusDisputed  ChequeStatus = "DISPUTED"
	ChequeStatusCancelled ChequeStatus = "CANCELLED"
)

type ChequeTimestamps struct {
	EmittedAt    time.Time  `json:"emitted_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	DepositedAt  *time.Time `json:"deposited_at,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

type Photo struct {
	Stage string    `json:"stage"`
	URL   string    `json:"url"`
	At    time.Time `json:"at"`
}

type MatchingInfo struct {
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	DistanceKm float64 `json:"distance_km"`
}

type Cheque struct {
	ID                   string           `json:"id"`
	OrderID              string           `json:"order_id,omitempty"`
	EmitterID            string           `json:"emitter_id"`
	EmitterName          string           `json:"emitter_name"`
	TargetSiteID         string           `json:"target_site_id"`
	TargetSiteName       string           `json:"target_site_name"`
	Quantity             int64            `json:"quantity"`
	QuantityReceived     *int64           `json:"quantity_received,omitempty"`
	PalletType           PalletType       `json:"pallet_type"`
	Status               ChequeStatus     `json:"status"`
	VehiclePlate         string           `json:"vehicle_plate,omitempty"`
	DriverName           string           `json:"driver_name,omitempty"`
	ReceiverID           string           `json:"receiver_id,omitempty"`
	Timestamps           ChequeTimestamps `json:"timestamps"`
	DepositLocation      *GeoPoint        `json:"deposit_location,omitempty"`
	ReceiptLocation      *GeoPoint        `json:"receipt_location,omitempty"`
	TransporterSignature string           `json:"transporter_signature,omitempty"`
	ReceiverSignature    string           `json:"receiver_signature,omitempty"`
	Photos               []Photo          `json:"photos,omitempty"`
	CancelReason         string           `json:"cancel_reason,omitempty"`
	Signature            string           `json:"signature"`
	Matching             *MatchingInfo    `json:"matching,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
	Version              int64            `json:"version"`
}

// CurrentQuantity is the quantity the chèque currently accounts for: the
// received quantity once recorded, the issued quantity before that.
func (c *Cheque) CurrentQuantity() int64 {
	if c.QuantityReceived != nil {
		return *c.QuantityReceived
	}
	return c.Quantity
}

func (c *Cheque) Clone() *Cheque {
	if c == nil {
		return nil
	}
	out := *c
	if c.QuantityReceived != nil {
		q := *c.QuantityReceived
		out.QuantityReceived = &q
	}
	out.Timestamps.DispatchedAt = cloneTime(c.Timestamps.DispatchedAt)
	out.Timestamps.DepositedAt = cloneTime(c.Timestamps.DepositedAt)
	out.Timestamps.ReceivedAt = cloneTime(c.Timestamps.ReceivedAt)
	out.Timestamps.CancelledAt = cloneTime(c.Timestamps.CancelledAt)
	if c.DepositLocation != nil {
		p := *c.DepositLocation
		out.DepositLocation = &p
	}
	if c.ReceiptLocation != nil {
		p := *c.ReceiptLocation
		out.ReceiptLocation = &p
	}
	if c.Photos != nil {
		out.Photos = append([]Photo(nil), c.Photos...)
	}
	if c.Matching != nil {
		m := *c.Matching
		out.Matching = &m
	}
	return &out
}

type LedgerEntry struct {
	At               time.Time  `json:"at"`
	PalletType       PalletType `json:"pallet_type"`
	Delta            int64      `json:"delta"`
	Reason           string     `json:"reason"`
	ChequeID         string     `json:"cheque_id,omitempty"`
	ResultingBalance int64      `json:"resulting_balance"`
}

type Ledger struct {
	CompanyID   string     `json:"company_id"`
	CompanyName string     `json:"company_name,omitempty"`
	Balances    Quantities `json:"balances"`
	// Base carries the balance contributed by entries pruned from History.
	Base      Quantities    `json:"base"`
	History   []LedgerEntry `json:"history"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
}

func NewLedger(companyID string, at time.Time) *Ledger {
	return &Ledger{
		CompanyID: companyID,
		History:   []LedgerEntry{},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func (l *Ledger) Total() int64 {
	return l.Balances.Total()
}

// Apply adds delta to the bucket of t, appends the history entry and prunes
// history beyond retention. Pruned deltas move into Base so that
// Balances == Base + sum(History deltas) holds per type.
func (l *Ledger) Apply(t PalletType, delta int64, reason, chequeID string, at time.Time, retention int) LedgerEntry {
	entry := LedgerEntry{
		At:               at,
		PalletType:       t,
		Delta:            delta,
		Reason:           reason,
		ChequeID:         chequeID,
		ResultingBalance: l.Balances.Add(t, delta),
	}
	l.History = append(l.History, entry)

	if retention > 0 && len(l.History) > retention {
		overflow := len(l.History) - retention
		for _, pruned := range l.History[:overflow] {
			l.Base.Add(pruned.PalletType, pruned.Delta)
		}
		l.History = append([]LedgerEntry(nil), l.History[overflow:]...)
	}

	l.UpdatedAt = at
	return entry
}

func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	out := *l
	out.History = append([]LedgerEntry{}, l.History...)
	return &out
}

type SitePriority string

const (
	SitePriorityInternal SitePriority = "INTERNAL"
	SitePriorityNetwork  SitePriority = "NETWORK"
	SitePriorityExternal SitePriority = "EXTERNAL"
)

func (p SitePriority) Valid() bool {
	switch p {
	case SitePriorityInternal, SitePriorityNetwork, SitePriorityExternal:
		return true
	}
	return false
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type GeofenceSettings struct {
	RadiusMeters float64 `json:"radius_meters"`
	Strict       bool    `json:"strict"`
}

type Quota struct {
	MaxDaily        int64     `json:"max_daily"`
	CurrentDaily    int64     `json:"current_daily"`
	MaxWeekly       int64     `json:"max_weekly"`
	CurrentWeekly   int64     `json:"current_weekly"`
	LastResetDaily  time.Time `json:"last_reset_daily"`
	LastResetWeekly time.Time `json:"last_reset_weekly"`
}

// Remaining is the number of pallets the site can still accept before
// either its daily or weekly cap is hit.
func (q Quota) Remaining() int64 {
	daily := q.MaxDaily - q.CurrentDaily
	weekly := q.MaxWeekly - q.CurrentWeekly
	remaining := daily
	if weekly < remaining {
		remaining = weekly
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

type DayHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

type OpeningHours struct {
	Monday    DayHours `json:"monday"`
	Tuesday   DayHours `json:"tuesday"`
	Wednesday DayHours `json:"wednesday"`
	Thursday  DayHours `json:"thursday"`
	Friday    DayHours `json:"friday"`
	Saturday  DayHours `json:"saturday"`
	Sunday    DayHours `json:"sunday"`
}

func DefaultOpeningHours() OpeningHours {
	weekday := DayHours{Open: "08:00", Close: "18:00"}
	return OpeningHours{
		Monday:    weekday,
		Tuesday:   weekday,
		Wednesday: weekday,
		Thursday:  weekday,
		Friday:    weekday,
		Saturday:  DayHours{Open: "08:00", Close: "12:00"},
		Sunday:    DayHours{Closed: true},
	}
}

func (o OpeningHours) For(day time.Weekday) DayHours {
	switch day {
	case time.Monday:
		return o.Monday
	case time.Tuesday:
		return o.Tuesday
	case time.Wednesday:
		return o.Wednesday
	case time.Thursday:
		return o.Thursday
	case time.Friday:
		return o.Friday
	case time.Saturday:
		return o.Saturday
	default:
		return o.Sunday
	}
}

// IsOpenAt compares the wall-clock "HH:MM" of t with the hours of its weekday.
func (o OpeningHours) IsOpenAt(t time.Time) bool {
	hours := o.For(t.Weekday())
	if hours.Closed || hours.Open == "" || hours.Close == "" {
		return false
	}
	current := t.Format("15:04")
	return current >= hours.Open && current <= hours.Close
}

type SiteStats struct {
	TotalReceived int64   `json:"total_received"`
	TotalDisputes int64   `json:"total_disputes"`
	AvgRating     float64 `json:"avg_rating"`
}

type Site struct {
	ID            string           `json:"id"`
	CompanyID     string           `json:"company_id"`
	CompanyName   string           `json:"company_name"`
	Name          string           `json:"name"`
	Address       Address          `json:"address"`
	Location      GeoPoint         `json:"location"`
	Geofence      GeofenceSettings `json:"geofence"`
	Quota         Quota            `json:"quota"`
	Capacities    Quantities       `json:"capacities"`
	Priority      SitePriority     `json:"priority"`
	PriorityScore float64          `json:"priority_score"`
	OpeningHours  OpeningHours     `json:"opening_hours"`
	Active        bool             `json:"active"`
	Stats         SiteStats        `json:"stats"`
	ContactEmail  string           `json:"contact_email,omitempty"`
	ContactPhone  string           `json:"contact_phone,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Version       int64            `json:"version"`
}

func (s *Site) Clone() *Site {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

type DisputeStatus string

const (
	DisputeStatusOpen      DisputeStatus = "OPEN"
	DisputeStatusProposed  DisputeStatus = "PROPOSED"
	DisputeStatusResolved  DisputeStatus = "RESOLVED"
	DisputeStatusEscalated DisputeStatus = "ESCALATED"
	DisputeStatusRejected  DisputeStatus = "REJECTED"
)

// OpenDisputeStatuses are the statuses that block a second dispute on the same chèque.
var OpenDisputeStatuses = []DisputeStatus{DisputeStatusOpen, DisputeStatusProposed}

type DisputeType string

const (
	DisputeTypeQuantity    DisputeType = "QUANTITY_MISMATCH"
	DisputeTypeDamaged     DisputeType = "DAMAGED"
	DisputeTypeNonDelivery DisputeType = "NON_DELIVERY"
	DisputeTypeOther       DisputeType = "OTHER"
)

func (t DisputeType) Valid() bool {
	switch t {
	case DisputeTypeQuantity, DisputeTypeDamaged, DisputeTypeNonDelivery, DisputeTypeOther:
		return true
	}
	return false
}

type DisputePriority string

const (
	DisputePriorityLow    DisputePriority = "low"
	DisputePriorityMedium DisputePriority = "medium"
	DisputePriorityHigh   DisputePriority = "high"

	DisputePriorityHighest = DisputePriorityHigh
)

func (p DisputePriority) Valid() bool {
	switch p {
	case DisputePriorityLow, DisputePriorityMedium, DisputePriorityHigh:
		return true
	}
	return false
}

type ResolutionType string

const (
	ResolutionFullAdjustment    ResolutionType = "FULL_ADJUSTMENT"
	ResolutionPartialAdjustment ResolutionType = "PARTIAL_ADJUSTMENT"
	ResolutionRejection         ResolutionType = "REJECTION"
	ResolutionCompensation      ResolutionType = "COMPENSATION"
)

func (t ResolutionType) Valid() bool {
	switch t {
	case ResolutionFullAdjustment, ResolutionPartialAdjustment, ResolutionRejection, ResolutionCompensation:
		return true
	}
	return false
}

type Resolution struct {
	Type             ResolutionType `json:"type"`
	AdjustedQuantity int64          `json:"adjusted_quantity"`
	Description      string         `json:"description"`
	ProposedBy       string         `json:"proposed_by"`
	ProposedAt       time.Time      `json:"proposed_at"`
	ValidatedBy      string         `json:"validated_by,omitempty"`
	ValidatedAt      *time.Time     `json:"validated_at,omitempty"`
}

const (
	AuditActionCreated    = "CREATED"
	AuditActionProposed   = "RESOLUTION_PROPOSED"
	AuditActionAccepted   = "RESOLUTION_ACCEPTED"
	AuditActionDeclined   = "RESOLUTION_DECLINED"
	AuditActionCommented  = "COMMENT_ADDED"
	AuditActionEscalated  = "ESCALATED"
	AuditActionRejected   = "REJECTED"
	AuditActionRolledBack = "ROLLED_BACK"

	AuditActorSystem = "system"
)

type AuditEntry struct {
	Action  string    `json:"action"`
	By      string    `json:"by"`
	At      time.Time `json:"at"`
	Details string    `json:"details,omitempty"`
}

type Comment struct {
	Author  string    `json:"author"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type Dispute struct {
	ID              string          `json:"id"`
	ChequeID        string          `json:"cheque_id"`
	InitiatorID     string          `json:"initiator_id"`
	RespondentID    string          `json:"respondent_id"`
	Type            DisputeType     `json:"type"`
	Description     string          `json:"description"`
	ClaimedQuantity int64           `json:"claimed_quantity"`
	ActualQuantity  int64           `json:"actual_quantity"`
	PalletType      PalletType      `json:"pallet_type"`
	Status          DisputeStatus   `json:"status"`
	Priority        DisputePriority `json:"priority"`
	Resolution      *Resolution     `json:"resolution,omitempty"`
	Comments        []Comment       `json:"comments"`
	AuditTrail      []AuditEntry    `json:"audit_trail"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	EscalatedAt     *time.Time      `json:"escalated_at,omitempty"`
	Version         int64           `json:"version"`
}

func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusProposed
}

func (d *Dispute) Audit(action, by, details string, at time.Time) {
	d.AuditTrail = append(d.AuditTrail, AuditEntry{
		Action:  action,
		By:      by,
		At:      at,
		Details: details,
	})
	d.UpdatedAt = at
}

func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	out := *d
	if d.Resolution != nil {
		r := *d.Resolution
		r.ValidatedAt = cloneTime(d.Resolution.ValidatedAt)
		out.Resolution = &r
	}
	out.Comments = append([]Comment{}, d.Comments...)
	out.AuditTrail = append([]AuditEntry{}, d.AuditTrail...)
	out.ResolvedAt = cloneTime(d.ResolvedAt)
	out.EscalatedAt = cloneTime(d.EscalatedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
