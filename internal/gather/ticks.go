package gather

import (
	"sort"

	"backtester/internal/domain"
)

// MergeTicks turns time-ordered trades into ticks, stamping each with the
// most recent quote at or before it. The trade size is credited to the ask
// volume when the trade lifted the offer (price at or above the midpoint)
// and to the bid volume otherwise. Trades before the first quote use the
// trade price as bid and ask and count as buys. Unsorted input is sorted
// stably by time first.
func MergeTicks(trades []Trade, quotes []Quote) []domain.Tick {
	if !sort.SliceIsSorted(trades, func(i, j int) bool { return trades[i].Time.Before(trades[j].Time) }) {
		trades = append([]Trade(nil), trades...)
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].Time.Before(trades[j].Time) })
	}
	if !sort.SliceIsSorted(quotes, func(i, j int) bool { return quotes[i].Time.Before(quotes[j].Time) }) {
		quotes = append([]Quote(nil), quotes...)
		sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Time.Before(quotes[j].Time) })
	}

	ticks := make([]domain.Tick, 0, len(trades))
	q := -1
	for _, tr := range trades {
		for q+1 < len(quotes) && !quotes[q+1].Time.After(tr.Time) {
			q++
		}

		t := domain.Tick{
			TimestampUS: tr.Time.UnixMicro(),
			Price:       tr.Price,
			Bid:         tr.Price,
			Ask:         tr.Price,
			Volume:      tr.Size,
			NumTrades:   1,
		}
		if q >= 0 && quotes[q].Bid > 0 && quotes[q].Ask >= quotes[q].Bid {
			t.Bid, t.Ask = quotes[q].Bid, quotes[q].Ask
		}
		if tr.Price >= (t.Bid+t.Ask)/2 {
			t.AskVolume = tr.Size
		} else {
			t.BidVolume = tr.Size
		}
		ticks = append(ticks, t)
	}
	return ticks
}
