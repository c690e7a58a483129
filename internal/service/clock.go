package service

import "time"

// Ticker abstracts time.Ticker so tests can drive poll ticks manually.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Clock supplies the current time and tickers. Production code uses
// SystemClock; tests advance a fake instead of sleeping through intervals.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) Chan() <-chan time.Time { return t.ticker.C }
func (t *systemTicker) Stop()                  { t.ticker.Stop() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock {
	return systemClock{}
}
