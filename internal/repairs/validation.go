package repairs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const registrationLength = 8

var (
	registrationPattern = regexp.MustCompile(`^89\d{6}$`)
	ncPattern           = regexp.MustCompile(`(?i)^INCM\.\d{4}\.\d+$`)
	orderNumberPattern  = regexp.MustCompile(`^([^/\s]+)/(\d{2})/(\d{4})$`)
	upper               = cases.Upper(language.Und)
)

// SanitizeRegistration strips non-digits from raw input and clamps it to the
// registration length.
func SanitizeRegistration(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == registrationLength {
				break
			}
		}
	}
	return b.String()
}

// ValidRegistration reports whether reg is an 8 digit code starting with 89.
func ValidRegistration(reg string) bool {
	return registrationPattern.MatchString(reg)
}

// NormalizeNC validates an NC report number and returns it upper-cased.
func NormalizeNC(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !ncPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNC, raw)
	}
	return upper.String(trimmed), nil
}

// ValidateOrder checks the fields required before an order may be persisted.
func ValidateOrder(o Order) error {
	switch {
	case strings.TrimSpace(o.ID) == "":
		return fmt.Errorf("%w: id", ErrMissingField)
	case strings.TrimSpace(o.WarehouseCode) == "":
		return fmt.Errorf("%w: warehouse", ErrMissingField)
	case strings.TrimSpace(o.SupplierID) == "":
		return fmt.Errorf("%w: supplier", ErrMissingField)
	case o.ShipmentDate.IsZero():
		return fmt.Errorf("%w: shipment date", ErrMissingField)
	case len(o.Lines) == 0:
		return fmt.Errorf("%w: lines", ErrMissingField)
	}
	if strings.ContainsFunc(o.WarehouseCode, func(r rune) bool { return r == '/' || unicode.IsSpace(r) }) {
		return fmt.Errorf("%w: warehouse code %q", ErrValidation, o.WarehouseCode)
	}
	if !o.DismantleDate.IsZero() && o.DismantleDate.After(o.ShipmentDate) {
		return ErrDateOrder
	}
	if o.NCReport != "" {
		if _, err := NormalizeNC(o.NCReport); err != nil {
			return err
		}
	}
	for i, line := range o.Lines {
		if !ValidRegistration(line.Registration) {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidRegistration)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
	}
	return nil
}

// FormatOrderNumber renders WAREHOUSE/YY/NNNN.
func FormatOrderNumber(warehouse string, year, seq int) string {
	return fmt.Sprintf("%s/%02d/%04d", warehouse, year%100, seq)
}

// ParseOrderNumber splits an order number into its parts. The sequence must
// be exactly four digits.
func ParseOrderNumber(number string) (warehouse string, yy, seq int, err error) {
	m := orderNumberPattern.FindStringSubmatch(number)
	if m == nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidOrderNumber, number)
	}
	yy, _ = strconv.Atoi(m[2])
	seq, _ = strconv.Atoi(m[3])
	return m[1], yy, seq, nil
}
