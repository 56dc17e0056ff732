package pricesync

import (
	"github.com/shopspring/decimal"

	"solswap/pkg/oracle"
	"solswap/pkg/registry"
)

const (
	DefaultSlippageBps = 30
	MaxSlippageBps     = 5000
)

// Side identifies one of the two amount fields.
type Side int

const (
	SidePay Side = iota
	SideReceive
)

func (s Side) String() string {
	if s == SidePay {
		return "pay"
	}
	return "receive"
}

func (s Side) other() Side {
	if s == SidePay {
		return SideReceive
	}
	return SidePay
}

// State is a snapshot of the swap form. Zero-valued tokens mean nothing is
// selected on that side yet.
type State struct {
	Owner string

	PayToken     registry.Token
	ReceiveToken registry.Token

	PayAmount     decimal.Decimal
	ReceiveAmount decimal.Decimal

	PayBalance     decimal.Decimal
	ReceiveBalance decimal.Decimal
	BalanceWarning error

	PayPrice     oracle.Price
	ReceivePrice oracle.Price

	SlippageBps int

	// Authoritative is the field the user edited last.
	Authoritative Side
}

// Amount returns the amount on side.
func (s *State) Amount(side Side) decimal.Decimal {
	if side == SidePay {
		return s.PayAmount
	}
	return s.ReceiveAmount
}

// Token returns the token on side.
func (s *State) Token(side Side) registry.Token {
	if side == SidePay {
		return s.PayToken
	}
	return s.ReceiveToken
}

func (s *State) setAmount(side Side, v decimal.Decimal) {
	if side == SidePay {
		s.PayAmount = v
		return
	}
	s.ReceiveAmount = v
}

func (s *State) setToken(side Side, t registry.Token) {
	if side == SidePay {
		s.PayToken = t
		s.PayPrice = oracle.Price{}
		return
	}
	s.ReceiveToken = t
	s.ReceivePrice = oracle.Price{}
}

func (s *State) setPrice(side Side, p oracle.Price) {
	if side == SidePay {
		s.PayPrice = p
		return
	}
	s.ReceivePrice = p
}

func (s *State) swapSides() {
	s.PayToken, s.ReceiveToken = s.ReceiveToken, s.PayToken
	s.PayAmount, s.ReceiveAmount = s.ReceiveAmount, s.PayAmount
	s.PayBalance, s.ReceiveBalance = s.ReceiveBalance, s.PayBalance
	s.PayPrice, s.ReceivePrice = s.ReceivePrice, s.PayPrice
	s.Authoritative = s.Authoritative.other()
}

// swapTokens exchanges the tokens with their prices and balances. Amounts
// stay on their side.
func (s *State) swapTokens() {
	s.PayToken, s.ReceiveToken = s.ReceiveToken, s.PayToken
	s.PayBalance, s.ReceiveBalance = s.ReceiveBalance, s.PayBalance
	s.PayPrice, s.ReceivePrice = s.ReceivePrice, s.PayPrice
}

// ValidSlippage reports whether bps is an accepted slippage tolerance.
func ValidSlippage(bps int) bool {
	return bps >= 0 && bps <= MaxSlippageBps
}

// Convert returns v × from / to. The caller guarantees to is positive.
func Convert(v decimal.Decimal, from, to oracle.Price) decimal.Decimal {
	return v.Mul(from.Display()).Div(to.Display())
}
