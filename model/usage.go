package model

// Usage tracks token counts for a single assistant response. Total and Cost
// are derived, not primary: Total defaults to Input+Output+CacheRead+CacheWrite
// and Cost is a per-provider linear combination supplied by the adapter that
// produced the usage.
type Usage struct {
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
	Total      int
	Cost       float64
}

// Add returns the element-wise sum of two Usage values, recomputing Total.
// Cost is summed as-is; callers that need cost to be re-derived from a
// pricing table should do so themselves rather than rely on this helper.
func (u Usage) Add(other Usage) Usage {
	sum := Usage{
		Input:      u.Input + other.Input,
		Output:     u.Output + other.Output,
		CacheRead:  u.CacheRead + other.CacheRead,
		CacheWrite: u.CacheWrite + other.CacheWrite,
		Cost:       u.Cost + other.Cost,
	}
	sum.Total = sum.Input + sum.Output + sum.CacheRead + sum.CacheWrite
	return sum
}
