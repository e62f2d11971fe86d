// Package ledger holds what every token ledger implementation shares.
package ledger

const (
	// AccountStorageOverhead is the fixed per-account size charged on top of the data length.
	AccountStorageOverhead = 128

	// LamportsPerByte is the rent-exempt price of one byte of account storage.
	LamportsPerByte = 6960
)

// RentExemptMinimum returns the lamports an account of size bytes must hold to be exempt from
// rent.
func RentExemptMinimum(size int) uint64 {
	if size < 0 {
		size = 0
	}
	return uint64(AccountStorageOverhead+size) * LamportsPerByte
}
