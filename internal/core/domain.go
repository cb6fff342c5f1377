package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSpender  Role = "spender"
	RoleGuardian Role = "guardian"
	RoleMerchant Role = "merchant"
	RoleTreasury Role = "treasury"
)

const (
	CategoryFood       Category = "food"
	CategoryEvents     Category = "events"
	CategoryStationery Category = "stationery"

	// CategoryUncategorized collects confirmed transfers that carry neither a
	// recognized note nor a registered merchant. It is never accepted on a
	// spend request.
	CategoryUncategorized Category = "uncategorized"
)

const (
	StatusPending   TransferStatus = "pending"
	StatusConfirmed TransferStatus = "confirmed"
	StatusFailed    TransferStatus = "failed"
)

const (
	OriginExecutor TransferOrigin = "executor"
	OriginLedger   TransferOrigin = "ledger"
)

type (
	Role           string
	Category       string
	TransferStatus string
	TransferOrigin string

	// Month is a calendar month in UTC.
	Month struct {
		Year  int
		Month time.Month
	}

	Principal struct {
		ID          string
		Role        Role
		DisplayName string
		Address     string // custodial address, empty for guardians
		CreatedAt   time.Time
	}

	Merchant struct {
		PrincipalID string
		Name        string
		Category    Category
		Address     string
	}

	// Transfer is the detail record of one value movement. It is visible to
	// its spender and, filtered, to the receiving merchant.
	Transfer struct {
		ID          string // local identifier
		TransferID  string // external ledger transfer id
		SpenderID   string
		Destination string
		MerchantID  string
		Amount      Money
		Category    Category
		Status      TransferStatus
		Origin      TransferOrigin
		Round       uint64
		ConfirmedAt time.Time
		CreatedAt   time.Time
	}

	// CategoryTotal is one running aggregate row.
	CategoryTotal struct {
		SpenderID string
		Category  Category
		Month     Month
		Amount    Money
	}

	Funding struct {
		ID          string
		GuardianID  string
		SpenderID   string
		Amount      Money
		TransferID  string
		ConfirmedAt time.Time
		// CreatedAt is set while the funding awaits confirmation.
		CreatedAt time.Time
	}
)

var (
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidRole     = errors.New("invalid role")
)

// SpendCategories lists the categories a spender may label a payment with.
func SpendCategories() []Category {
	return []Category{CategoryFood, CategoryEvents, CategoryStationery}
}

// ParseCategory normalizes s and reports whether it is a spend category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsSpendable() {
		return c, true
	}
	return "", false
}

// IsSpendable reports whether c may be used on a spend request or a merchant.
func (c Category) IsSpendable() bool {
	switch c {
	case CategoryFood, CategoryEvents, CategoryStationery:
		return true
	}
	return false
}

// IsKnown reports whether c may appear in an aggregate.
func (c Category) IsKnown() bool {
	return c.IsSpendable() || c == CategoryUncategorized
}

func (c Category) Validate() error {
	if !c.IsSpendable() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, string(c))
	}
	return nil
}

func (r Role) Validate() error {
	switch r {
	case RoleSpender, RoleGuardian, RoleMerchant, RoleTreasury:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRole, string(r))
}

// Custodial reports whether principals with this role hold a vault credential.
func (r Role) Custodial() bool {
	return r == RoleSpender || r == RoleMerchant || r == RoleTreasury
}

// MonthOf returns the UTC calendar month containing t.
func MonthOf(t time.Time) Month {
	u := t.UTC()
	return Month{Year: u.Year(), Month: u.Month()}
}

// ParseMonth parses the YYYY-MM form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthOf(t), nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) Validate() error {
	if m.Year < 1970 || m.Month < time.January || m.Month > time.December {
		return ErrInvalidMonth
	}
	return nil
}

// Bounds returns the half-open UTC interval [start, end) covered by m.
func (m Month) Bounds() (time.Time, time.Time) {
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Month returns the calendar month the transfer is aggregated into.
func (t Transfer) Month() Month {
	return MonthOf(t.ConfirmedAt)
}

func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("empty principal id")
	}
	return p.Role.Validate()
}

func (m Merchant) Validate() error {
	if strings.TrimSpace(m.PrincipalID) == "" {
		return errors.New("empty merchant principal id")
	}
	if len(strings.TrimSpace(m.Name)) == 0 {
		return errors.New("empty merchant name")
	}
	if len(m.Name) > 100 {
		return errors.New("merchant name too long (max 100 characters)")
	}
	if strings.TrimSpace(m.Address) == "" {
		return errors.New("empty merchant address")
	}
	return m.Category.Validate()
}
