package etl

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/geekane/1127jixiao/period"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Loader replaces the fact tables with freshly transformed rows.
//
// Both loads are full replaces: every existing row is deleted and every
// qualifying row inserted in one store transaction. A row qualifies when it
// carries a store id and the table's fact field; rows without the field are
// skipped silently because exports do not fill every field for every store.
// Rows without a store id, such as a totals row, cannot join an assignment
// and are skipped too.
type Loader struct {
	store FactStore
	log   *zap.Logger
}

// NewLoader creates a Loader. A nil logger disables logging.
func NewLoader(store FactStore, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{store: store, log: log}
}

// LoadMonthly replaces the monthly verification facts and returns the number
// of rows inserted.
func (l *Loader) LoadMonthly(ctx context.Context, rows RowSource) (int, error) {
	if c, ok := rows.(io.Closer); ok {
		defer c.Close()
	}

	var facts []MonthlyVerificationFact
	for rows.Next() {
		row := rows.Row()
		raw, ok := row.Get(FieldVerifyAmount)
		if !ok {
			continue
		}
		storeID := strings.TrimSpace(row[FieldStoreID])
		if storeID == "" {
			l.log.Debug("skipping monthly row without store id", zap.String("store_name", row[FieldStoreName]))
			continue
		}
		amount, err := ParseDecimal(raw)
		if err != nil {
			l.log.Warn("skipping monthly row with non-numeric amount",
				zap.String("store_id", storeID), zap.String("value", raw))
			continue
		}
		dateRange, _ := period.NormalizeRange(row[FieldDateRange])
		facts = append(facts, MonthlyVerificationFact{
			DateRange:    dateRange,
			StoreID:      storeID,
			StoreName:    strings.TrimSpace(row[FieldStoreName]),
			VerifyAmount: amount,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read monthly export rows: %w", err)
	}

	if err := l.store.ReplaceMonthlyFacts(ctx, facts); err != nil {
		return 0, storageErr("replace monthly facts", err)
	}

	l.log.Info("loaded monthly facts", zap.Int("rows", len(facts)))
	return len(facts), nil
}

// LoadDaily replaces the daily score facts, keying every row by snapshotDate,
// and returns the number of rows inserted.
func (l *Loader) LoadDaily(ctx context.Context, rows RowSource, snapshotDate string) (int, error) {
	if c, ok := rows.(io.Closer); ok {
		defer c.Close()
	}

	var facts []DailyScoreFact
	for rows.Next() {
		row := rows.Row()
		raw, ok := row.Get(FieldOperationScore)
		if !ok {
			continue
		}
		storeID := strings.TrimSpace(row[FieldStoreID])
		if storeID == "" {
			l.log.Debug("skipping daily row without store id", zap.String("store_name", row[FieldStoreName]))
			continue
		}
		score, err := ParseDecimal(raw)
		if err != nil {
			l.log.Warn("skipping daily row with non-numeric score",
				zap.String("store_id", storeID), zap.String("value", raw))
			continue
		}
		facts = append(facts, DailyScoreFact{
			DateRange:      snapshotDate,
			StoreID:        storeID,
			StoreName:      strings.TrimSpace(row[FieldStoreName]),
			OperationScore: score,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read daily export rows: %w", err)
	}

	if err := l.store.ReplaceDailyFacts(ctx, facts); err != nil {
		return 0, storageErr("replace daily facts", err)
	}

	l.log.Info("loaded daily facts", zap.Int("rows", len(facts)), zap.String("snapshot", snapshotDate))
	return len(facts), nil
}

// ParseDecimal parses a spreadsheet number, tolerating thousands separators
// and surrounding whitespace.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	return decimal.NewFromString(cleaned)
}
