package feeds

import "time"

func (f *MarketFeed) SetClock(now func() time.Time)   { f.now = now }
func (f *SecurityFeed) SetClock(now func() time.Time) { f.now = now }
