package domain

import "time"

// Player is a tournament participant reconciled from one or more registration items
type Player struct {
	ID               string       `json:"id"`
	FirstName        string       `json:"firstName"`
	LastName         string       `json:"lastName"`
	Email            string       `json:"email,omitempty"`
	LicenseNumber    string       `json:"licenseNumber"`
	Club             *string      `json:"club"`
	ClubCode         *string      `json:"clubCode"`
	OfficialPoints   *int         `json:"officialPoints"`
	Categories       []CategoryID `json:"categories"`
	RegistrationDate time.Time    `json:"registrationDate"`
}

// HasCategory reports whether the player is registered in the given category
func (p Player) HasCategory(id CategoryID) bool {
	for _, c := range p.Categories {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can patch fields without aliasing cached data
func (p Player) Clone() Player {
	out := p
	out.Club = cloneString(p.Club)
	out.ClubCode = cloneString(p.ClubCode)
	if p.OfficialPoints != nil {
		v := *p.OfficialPoints
		out.OfficialPoints = &v
	}
	out.Categories = append([]CategoryID(nil), p.Categories...)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}

// RawItem is one registration line item as delivered by the registration platform
type RawItem struct {
	ItemID       int64
	OrderID      int64
	OrderDate    time.Time
	Payer        Payer
	ProductName  string
	CustomFields []CustomField
}

// Payer identifies who paid for an order
type Payer struct {
	FirstName string
	LastName  string
	Email     string
}

// CustomField is a free-form question/answer pair attached to an item
type CustomField struct {
	Name   string
	Answer string
}

// Ranking is the federation record for a license number
type Ranking struct {
	LicenseNumber string `json:"licenseNumber"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Club          string `json:"club"`
	ClubCode      string `json:"clubCode"`
	Points        int    `json:"points"`
	Category      string `json:"category"`
	Gender        string `json:"gender"`
}

// Override is a sparse manual correction keyed by player ID
type Override struct {
	LicenseNumber  *string `json:"licenseNumber,omitempty" yaml:"licenseNumber,omitempty"`
	Club           *string `json:"club,omitempty" yaml:"club,omitempty"`
	OfficialPoints *int    `json:"officialPoints,omitempty" yaml:"officialPoints,omitempty"`
}

// PlayersSnapshot is the cached result of a refresh
type PlayersSnapshot struct {
	Players     []Player  `json:"players"`
	LastUpdated time.Time `json:"lastUpdated"`
	Warning     string    `json:"warning,omitempty"`
}

// PlayersResponse is the read view over the cached snapshot. LastUpdated is
// nil until a first refresh has succeeded.
type PlayersResponse struct {
	Players     []Player   `json:"players"`
	FromCache   bool       `json:"fromCache"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Warning     string     `json:"warning,omitempty"`
}

// RefreshResult summarises a refresh run
type RefreshResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobResult is what the scheduled job reports
type JobResult struct {
	Result  string `json:"result"`
	Players int    `json:"players"`
	Error   string `json:"error,omitempty"`
}
