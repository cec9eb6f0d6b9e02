package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const tradeColumns = `trade_id, symbol, qty, entry_price, exit_price, open_time, close_time, realized_pl, fees, reason, preset`

func scanTrade(s interface{ Scan(...any) error }) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID,
		&rec.Symbol,
		&rec.Qty,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPL,
		&rec.Fees,
		&rec.Reason,
		&rec.Preset,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q not found", tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates closed trades.
type Summary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPL  float64 `json:"realized_pl"`
	Fees        float64 `json:"fees"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
}

// ProfitFactor is gross profit over gross loss; 0 without losses.
func (s Summary) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return 0
	}
	return s.GrossProfit / s.GrossLoss
}

// Summarize aggregates trades closed in [start, end).
func (j *SQLite) Summarize(start, end time.Time) (Summary, error) {
	trades, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	for _, t := range trades {
		s.Trades++
		s.RealizedPL += t.RealizedPL
		s.Fees += t.Fees
		switch {
		case t.RealizedPL > 0:
			s.Wins++
			s.GrossProfit += t.RealizedPL
		case t.RealizedPL < 0:
			s.Losses++
			s.GrossLoss -= t.RealizedPL
		}
	}
	return s, nil
}

// LatestEquity returns the most recent equity snapshot.
func (j *SQLite) LatestEquity() (EquitySnapshot, error) {
	var e EquitySnapshot
	err := j.db.QueryRow(`
		SELECT time, equity, last_equity, cash, buying_power
		FROM equity ORDER BY time DESC LIMIT 1`).Scan(&e.Time, &e.Equity, &e.LastEquity, &e.Cash, &e.BuyingPower)
	if err != nil {
		return EquitySnapshot{}, err
	}
	return e, nil
}
