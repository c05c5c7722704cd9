package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

func scanJSON(src interface{}, dest interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func valueJSON(v interface{}, empty string) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	if string(raw) == "null" {
		return []byte(empty), nil
	}
	return raw, nil
}

// IntList is a JSON encoded list of integers.
type IntList []int

// Value implements driver.Valuer.
func (l IntList) Value() (driver.Value, error) { return valueJSON([]int(l), "[]") }

// Scan implements sql.Scanner.
func (l *IntList) Scan(src interface{}) error { return scanJSON(src, (*[]int)(l)) }

// PeriodRefList is a JSON encoded list of day/period references.
type PeriodRefList []PeriodRef

// Value implements driver.Valuer.
func (l PeriodRefList) Value() (driver.Value, error) { return valueJSON([]PeriodRef(l), "[]") }

// Scan implements sql.Scanner. Entries with a period outside 1..12 or day outside 0..7 are rejected.
func (l *PeriodRefList) Scan(src interface{}) error {
	if err := scanJSON(src, (*[]PeriodRef)(l)); err != nil {
		return err
	}
	for _, ref := range *l {
		if ref.DayOfWeek < 0 || ref.DayOfWeek > 7 || ref.PeriodNumber < 1 || ref.PeriodNumber > MaxDailyPeriods {
			return fmt.Errorf("invalid period reference %d/%d", ref.DayOfWeek, ref.PeriodNumber)
		}
	}
	return nil
}

// StringList is a JSON encoded list of strings.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) { return valueJSON([]string(l), "[]") }

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error { return scanJSON(src, (*[]string)(l)) }

// Value implements driver.Valuer.
func (p GenerationPreferences) Value() (driver.Value, error) { return valueJSON(p, "{}") }

// Scan implements sql.Scanner.
func (p *GenerationPreferences) Scan(src interface{}) error { return scanJSON(src, p) }

// Value implements driver.Valuer.
func (d *DistributionPattern) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return valueJSON(d, "{}")
}

// Scan implements sql.Scanner.
func (d *DistributionPattern) Scan(src interface{}) error { return scanJSON(src, d) }

// Value implements driver.Valuer.
func (h ConflictHistory) Value() (driver.Value, error) { return valueJSON([]ConflictHistoryEntry(h), "[]") }

// Scan implements sql.Scanner.
func (h *ConflictHistory) Scan(src interface{}) error { return scanJSON(src, (*[]ConflictHistoryEntry)(h)) }

// Value implements driver.Valuer.
func (s SuggestedSolutions) Value() (driver.Value, error) {
	return valueJSON([]SuggestedSolution(s), "[]")
}

// Scan implements sql.Scanner.
func (s *SuggestedSolutions) Scan(src interface{}) error { return scanJSON(src, (*[]SuggestedSolution)(s)) }

// Value implements driver.Valuer.
func (m ConflictMetadata) Value() (driver.Value, error) { return valueJSON(map[string]string(m), "{}") }

// Scan implements sql.Scanner.
func (m *ConflictMetadata) Scan(src interface{}) error { return scanJSON(src, (*map[string]string)(m)) }

// Value implements driver.Valuer.
func (d TemplateData) Value() (driver.Value, error) { return valueJSON(d, "{}") }

// Scan implements sql.Scanner.
func (d *TemplateData) Scan(src interface{}) error { return scanJSON(src, d) }

// Value implements driver.Valuer.
func (c TemplateConstraints) Value() (driver.Value, error) { return valueJSON(c, "{}") }

// Scan implements sql.Scanner.
func (c *TemplateConstraints) Scan(src interface{}) error { return scanJSON(src, c) }

// Value implements driver.Valuer.
func (s GenerationStatistics) Value() (driver.Value, error) { return valueJSON(s, "{}") }

// Scan implements sql.Scanner.
func (s *GenerationStatistics) Scan(src interface{}) error { return scanJSON(src, s) }
