package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// UncategorizedName and UncategorizedColor label movements without a category.
const (
	UncategorizedName  = "Non catégorisé"
	UncategorizedColor = "#64748B"
)

// DailyTotals is the incoming and outgoing volume of one calendar day.
type DailyTotals struct {
	Date     string
	Incoming decimal.Decimal
	Outgoing decimal.Decimal
}

// CategoryTotals is the volume booked against one category.
type CategoryTotals struct {
	Name     string
	Color    string
	Incoming decimal.Decimal
	Outgoing decimal.Decimal
}

// Total is the combined volume of the category.
func (c CategoryTotals) Total() decimal.Decimal {
	return c.Incoming.Add(c.Outgoing)
}

// Analytics summarises the movements of a date range.
type Analytics struct {
	From           time.Time
	To             time.Time
	Daily          []DailyTotals
	Categories     []CategoryTotals
	TotalIncoming  decimal.Decimal
	TotalOutgoing  decimal.Decimal
	Count          int64
	CurrentBalance decimal.Decimal
	ProfitMargin   decimal.Decimal
}

// DailySeries groups movements by UTC calendar day, oldest first.
// Days without movements are omitted.
func DailySeries(movements []*Movement) []DailyTotals {
	byDay := map[string]*DailyTotals{}
	for _, m := range movements {
		day := m.CreatedAt.UTC().Format(time.DateOnly)
		d, ok := byDay[day]
		if !ok {
			d = &DailyTotals{Date: day, Incoming: decimal.Zero, Outgoing: decimal.Zero}
			byDay[day] = d
		}
		if m.Kind == KindIncoming {
			d.Incoming = d.Incoming.Add(m.Amount)
		} else {
			d.Outgoing = d.Outgoing.Add(m.Amount.Abs())
		}
	}

	out := make([]DailyTotals, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// CategoryBreakdown groups movements by category name, largest total first.
// colors maps category names to their display color.
func CategoryBreakdown(movements []*Movement, colors map[string]string) []CategoryTotals {
	byName := map[string]*CategoryTotals{}
	for _, m := range movements {
		name := UncategorizedName
		if m.CategoryName != nil && *m.CategoryName != "" {
			name = *m.CategoryName
		}
		c, ok := byName[name]
		if !ok {
			color := colors[name]
			if color == "" {
				color = UncategorizedColor
			}
			c = &CategoryTotals{Name: name, Color: color, Incoming: decimal.Zero, Outgoing: decimal.Zero}
			byName[name] = c
		}
		if m.Kind == KindIncoming {
			c.Incoming = c.Incoming.Add(m.Amount)
		} else {
			c.Outgoing = c.Outgoing.Add(m.Amount.Abs())
		}
	}

	out := make([]CategoryTotals, 0, len(byName))
	for _, c := range byName {
		if c.Total().IsPositive() {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Total().Cmp(out[j].Total()); cmp != 0 {
			return cmp > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ProfitMargin returns (incoming - outgoing) / incoming as a percentage
// rounded to two decimals, or zero when nothing came in.
func ProfitMargin(incoming, outgoing decimal.Decimal) decimal.Decimal {
	if !incoming.IsPositive() {
		return decimal.Zero
	}
	return incoming.Sub(outgoing).Div(incoming).Mul(decimal.NewFromInt(100)).Round(2)
}
