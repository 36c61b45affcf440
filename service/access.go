package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// IssuerPolicy decides who may create gifts.
type IssuerPolicy interface {
	IsIssuer(ctx context.Context, caller common.Address) bool
}

// StaticIssuers is a fixed allow-list loaded from configuration.
type StaticIssuers map[common.Address]struct{}

func NewStaticIssuers(addrs ...common.Address) StaticIssuers {
	s := make(StaticIssuers, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s StaticIssuers) IsIssuer(ctx context.Context, caller common.Address) bool {
	_, ok := s[caller]
	return ok
}
