package service

import "time"

// Clock supplies the current unix time to the ledger.
type Clock interface {
	Now() uint64
}

type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}
