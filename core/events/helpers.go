package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func formatID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
