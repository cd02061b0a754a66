package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductCodeSequence is the singleton counter row per business. NextValue
// stores the raw counter text (possibly with a non-numeric prefix); Pattern,
// when set, formats the externally visible code from the numeric tail.
type ProductCodeSequence struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"uniqueIndex;not null" json:"business_id"`
	NextValue  string    `gorm:"size:100;not null" json:"next_value"`
	Pattern    string    `gorm:"size:100" json:"pattern"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var (
	trailingNumeralRe = regexp.MustCompile(`^(.*?)(\d+)$`)
	patternNumRe      = regexp.MustCompile(`\{num(?::0?(\d+)d)?\}`)
)

// splitTrailingNumeral splits "ABC0042" into ("ABC", "0042"). ok is false
// when the value has no trailing digit run.
func splitTrailingNumeral(value string) (prefix, numeral string, ok bool) {
	m := trailingNumeralRe.FindStringSubmatch(value)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// incrementStoredValue computes the successor of a counter value, preserving
// the zero-pad width of the numeral when it is wider than one digit.
// ok is false for non-incrementable values; those are left untouched.
func incrementStoredValue(value string) (next string, ok bool) {
	prefix, numeral, ok := splitTrailingNumeral(value)
	if !ok {
		return value, false
	}
	n, err := strconv.ParseUint(numeral, 10, 64)
	if err != nil {
		return value, false
	}
	succ := strconv.FormatUint(n+1, 10)
	if len(numeral) > 1 && len(succ) < len(numeral) {
		succ = strings.Repeat("0", len(numeral)-len(succ)) + succ
	}
	return prefix + succ, true
}

// formatProductCode renders the externally visible code for a counter value.
// Without a pattern the stored value is returned as-is. With a pattern, the
// numeric tail is substituted for the {num} placeholder ({num:04d} zero-pads).
func formatProductCode(value, pattern string) string {
	if pattern == "" {
		return value
	}
	_, numeral, ok := splitTrailingNumeral(value)
	if !ok {
		return value
	}
	n, err := strconv.ParseUint(numeral, 10, 64)
	if err != nil {
		return value
	}
	if !patternNumRe.MatchString(pattern) {
		return value
	}
	return patternNumRe.ReplaceAllStringFunc(pattern, func(ph string) string {
		m := patternNumRe.FindStringSubmatch(ph)
		if m[1] == "" {
			return strconv.FormatUint(n, 10)
		}
		width, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%0*d", width, n)
	})
}

// nextProductCodeTx hands out the current code and advances the counter,
// inside the caller's transaction. The sequence row is locked FOR UPDATE for
// the whole read-compute-write, which is the entire collision guarantee:
// concurrent callers block on the row lock, they are never failed.
func nextProductCodeTx(ctx context.Context, tx *gorm.DB, businessId string) (string, error) {
	var seq ProductCodeSequence
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&seq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", utils.ErrorRecordNotFound
		}
		return "", err
	}

	code := formatProductCode(seq.NextValue, seq.Pattern)

	next, ok := incrementStoredValue(seq.NextValue)
	if !ok {
		// Non-incrementable value: hand it back verbatim, no counter write.
		return code, nil
	}
	if err := tx.WithContext(ctx).Model(&seq).Update("next_value", next).Error; err != nil {
		return "", err
	}
	return code, nil
}

// NextProductCode issues the next product code for the calling business.
func NextProductCode(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()
	code, err := nextProductCodeTx(ctx, tx, businessId)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit().Error; err != nil {
		return "", err
	}
	return code, nil
}

// UpdateProductCodeSequence lets operators reseed the counter or pattern.
func UpdateProductCodeSequence(ctx context.Context, nextValue, pattern string) (*ProductCodeSequence, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if strings.TrimSpace(nextValue) == "" {
		return nil, &ValidationError{Reason: "next value is required"}
	}

	db := config.GetDB()
	var seq ProductCodeSequence
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&seq).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&seq).Updates(map[string]interface{}{
		"NextValue": nextValue,
		"Pattern":   pattern,
	}).Error; err != nil {
		return nil, err
	}
	return &seq, nil
}
