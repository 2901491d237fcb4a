package escrow

import (
	"math/big"
	"strings"
	"time"

	"escrowlock/internal/config"
)

// Settings is the per-client ledger configuration. It is fixed at
// construction and shared read-only across invocations.
type Settings struct {
	ContractID             string
	NetworkPassphrase      string
	BaseFee                int64
	TxTimeout              time.Duration
	PollInterval           time.Duration
	PollMaxAttempts        int
	AmountScale            *big.Int
	FailClosedOnPauseCheck bool
}

func SettingsFromConfig(c config.ChainConfig) Settings {
	return Settings{
		ContractID:             c.ContractID,
		NetworkPassphrase:      c.NetworkPassphrase,
		BaseFee:                c.BaseFee,
		TxTimeout:              c.TxTimeout,
		PollInterval:           c.PollInterval,
		PollMaxAttempts:        c.PollMaxAttempts,
		AmountScale:            big.NewInt(c.AmountScale),
		FailClosedOnPauseCheck: c.FailClosedOnPauseCheck,
	}
}

func (s Settings) scale() *big.Int {
	if s.AmountScale == nil || s.AmountScale.Sign() <= 0 {
		return big.NewInt(config.DefaultAmountScale)
	}
	return s.AmountScale
}

// ToBaseUnits multiplies a whole-token amount by the scale.
func ToBaseUnits(major, scale *big.Int) *big.Int {
	return new(big.Int).Mul(major, scale)
}

// FormatUnits renders base units as a decimal string in major units. A
// power-of-ten scale gives the exact value with one fractional digit per
// zero; any other scale is rounded to as many digits as the scale has.
func FormatUnits(base, scale *big.Int) string {
	if base == nil {
		return "0"
	}
	if scale == nil || scale.Sign() <= 0 {
		scale = big.NewInt(config.DefaultAmountScale)
	}
	digits := len(scale.String())
	if isPowerOfTen(scale) {
		digits--
	}
	return new(big.Rat).SetFrac(base, scale).FloatString(digits)
}

func isPowerOfTen(n *big.Int) bool {
	s := n.String()
	return s[0] == '1' && strings.Trim(s[1:], "0") == ""
}
