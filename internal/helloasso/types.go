package helloasso

import (
	"strings"
	"time"

	"github.com/tournament-registry/internal/domain"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Pagination is the paging block returned by listing endpoints
type Pagination struct {
	PageSize          int    `json:"pageSize"`
	TotalCount        int    `json:"totalCount"`
	PageIndex         int    `json:"pageIndex"`
	TotalPages        int    `json:"totalPages"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

type page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type CustomField struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Answer string `json:"answer"`
}

type Payer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type User struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type ItemOrder struct {
	ID       int64  `json:"id"`
	Date     string `json:"date"`
	FormSlug string `json:"formSlug"`
}

// Item is a line item from the items listing
type Item struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	PriceCategory string        `json:"priceCategory"`
	CustomFields  []CustomField `json:"customFields,omitempty"`
	Amount        int64         `json:"amount"`
	Type          string        `json:"type"`
	State         string        `json:"state"`
	User          *User         `json:"user,omitempty"`
	Payer         *Payer        `json:"payer,omitempty"`
	Order         *ItemOrder    `json:"order,omitempty"`
}

// OrderAmount is the amount breakdown of an order, in cents
type OrderAmount struct {
	Total    int64 `json:"total"`
	VAT      int64 `json:"vat"`
	Discount int64 `json:"discount"`
}

// Order is a purchase from the orders listing
type Order struct {
	ID               int64       `json:"id"`
	Date             string      `json:"date"`
	FormSlug         string      `json:"formSlug"`
	FormType         string      `json:"formType"`
	OrganizationSlug string      `json:"organizationSlug"`
	Payer            Payer       `json:"payer"`
	Items            []Item      `json:"items"`
	Amount           OrderAmount `json:"amount"`
	State            string      `json:"state"`
}

// ToRaw converts an item into the platform-neutral record the reconciler consumes
func (it Item) ToRaw() domain.RawItem {
	raw := domain.RawItem{
		ItemID:      it.ID,
		ProductName: it.Name,
	}
	if it.Order != nil {
		raw.OrderID = it.Order.ID
		raw.OrderDate = parseDate(it.Order.Date)
	}
	if it.Payer != nil {
		raw.Payer = domain.Payer{
			FirstName: it.Payer.FirstName,
			LastName:  it.Payer.LastName,
			Email:     it.Payer.Email,
		}
	}
	for _, f := range it.CustomFields {
		raw.CustomFields = append(raw.CustomFields, domain.CustomField{Name: f.Name, Answer: f.Answer})
	}
	return raw
}

// RawItems flattens an order into records; items inherit the order's id, date and payer
func (o Order) RawItems() []domain.RawItem {
	out := make([]domain.RawItem, 0, len(o.Items))
	for _, it := range o.Items {
		raw := it.ToRaw()
		raw.OrderID = o.ID
		raw.OrderDate = parseDate(o.Date)
		if it.Payer == nil {
			raw.Payer = domain.Payer{
				FirstName: o.Payer.FirstName,
				LastName:  o.Payer.LastName,
				Email:     o.Payer.Email,
			}
		}
		out = append(out, raw)
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts the platform's ISO timestamps, with or without zone. Unparseable input yields the zero time.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
