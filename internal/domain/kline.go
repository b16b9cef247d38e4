package domain

import "time"

// Kline represents a single candlestick data point, used as input for the
// ATR computation behind trailing stops.
type Kline struct {
	OpenTime   time.Time
	CloseTime  time.Time
	Instrument string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}
