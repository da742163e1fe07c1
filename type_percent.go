package portfolio

import "fmt"

// Percent is a fraction displayed as a percentage: 0.125 prints as "12.50%".
type Percent float64

func (p Percent) Equal(q Percent) bool {
	// it has to be compared with some precision
	const precision = 0.0001
	diff := p - q
	if diff < 0 {
		diff = -diff
	}
	return diff < precision
}

func (p Percent) String() string {
	return fmt.Sprintf("%.2f%%", float64(p)*100)
}

func (p Percent) SignedString() string {
	res := fmt.Sprintf("%+.2f%%", float64(p)*100)
	if res == "+0.00%" || res == "-0.00%" {
		return "-"
	}
	return res
}
