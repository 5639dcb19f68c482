package etl

import (
	"context"
	"sort"

	"github.com/geekane/1127jixiao/period"
	"github.com/shopspring/decimal"
)

// Aggregator builds one OperatorSummary per operator in the assignments.
type Aggregator struct {
	store AggregateStore
}

// NewAggregator creates an Aggregator.
func NewAggregator(store AggregateStore) *Aggregator {
	return &Aggregator{store: store}
}

// Aggregate joins the assignments with the monthly facts keyed by r.String()
// and the daily scores keyed by r.EndString().
//
// Every operator in the assignment table appears exactly once. Operators
// without matching facts keep zero values. Results are sorted by operator
// name.
func (a *Aggregator) Aggregate(ctx context.Context, r period.Range) ([]OperatorSummary, error) {
	in, err := a.store.AggregationInput(ctx, r.String(), r.EndString())
	if err != nil {
		return nil, storageErr("aggregation input", err)
	}
	return Summarize(in), nil
}

// Summarize merges the three aggregation result sets keyed by person. It is
// exported so the merge rules can be exercised without a store.
func Summarize(in AggregationInput) []OperatorSummary {
	byPerson := make(map[string]*OperatorSummary, len(in.Operators))
	for _, op := range in.Operators {
		if _, seen := byPerson[op.Person]; seen {
			continue
		}
		byPerson[op.Person] = &OperatorSummary{
			OperatorName:        op.Person,
			GroupID:             op.GroupID,
			AvgScore:            decimal.Zero,
			TotalVerifiedAmount: decimal.Zero,
		}
	}

	for _, f := range in.Amounts {
		s, ok := byPerson[f.Person]
		if !ok {
			continue
		}
		s.TotalVerifiedAmount = s.TotalVerifiedAmount.Add(f.Value)
		s.StoreCount++
	}

	scoreSums := make(map[string]decimal.Decimal)
	scoreCounts := make(map[string]int64)
	for _, f := range in.Scores {
		if _, ok := byPerson[f.Person]; !ok {
			continue
		}
		scoreSums[f.Person] = scoreSums[f.Person].Add(f.Value)
		scoreCounts[f.Person]++
	}
	for person, sum := range scoreSums {
		byPerson[person].AvgScore = sum.Div(decimal.NewFromInt(scoreCounts[person]))
	}

	out := make([]OperatorSummary, 0, len(byPerson))
	for _, s := range byPerson {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperatorName < out[j].OperatorName })
	return out
}
