package portfolio

import "time"

// Protection is a purchased downside cover on an asset. It is immutable and
// stays in the state after it expires.
type Protection struct {
	ID          string    `json:"id"`
	AssetID     AssetID   `json:"assetId"`
	NotionalIRR Money     `json:"notionalIrr"`
	PremiumIRR  Money     `json:"premiumIrr"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// ActiveAt reports whether the protection covers instant t.
func (p Protection) ActiveAt(t time.Time) bool {
	return !t.Before(p.StartTime) && t.Before(p.EndTime)
}

// Remaining returns the time left at t, or 0 once expired.
func (p Protection) Remaining(t time.Time) time.Duration {
	if !p.ActiveAt(t) {
		return 0
	}
	return p.EndTime.Sub(t)
}
