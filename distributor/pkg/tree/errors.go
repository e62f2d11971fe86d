package tree

// ErrorKind identifies a kind of error. It supports errors.Is and errors.As so callers can
// check against a kind directly.
type ErrorKind string

// Validation errors.
const (
	ErrTimestampsNotInFuture       = ErrorKind("TimestampsNotInFuture")
	ErrStartTimestampAfterEnd      = ErrorKind("StartTimestampAfterEnd")
	ErrNoRecipients                = ErrorKind("NoRecipients")
	ErrZeroTransferAmount          = ErrorKind("ZeroTransferAmount")
	ErrBatchIDTooShort             = ErrorKind("BatchIdTooShort")
	ErrBatchIDTooLong              = ErrorKind("BatchIdTooLong")
	ErrIndexOutOfBounds            = ErrorKind("IndexOutOfBounds")
	ErrMustAcknowledgeIrreversible = ErrorKind("MustAcknowledgeIrreversible")
	ErrInvalidTokenMint            = ErrorKind("InvalidTokenMint")
	ErrInvalidTokenVault           = ErrorKind("InvalidTokenVault")
	ErrTooManyRecipients           = ErrorKind("TooManyRecipients")
)

// Authorization errors.
const (
	ErrSignerNotAuthorized = ErrorKind("SignerNotAuthorized")
)

// State errors.
const (
	ErrInvalidDistributionStatus   = ErrorKind("InvalidDistributionStatus")
	ErrDistributionNotActive       = ErrorKind("DistributionNotActive")
	ErrInsufficientBitmapSpace     = ErrorKind("InsufficientBitmapSpace")
	ErrAlreadyClaimed              = ErrorKind("AlreadyClaimed")
	ErrClaimsNotAllowed            = ErrorKind("ClaimsNotAllowed")
	ErrDistributionNotStarted      = ErrorKind("DistributionNotStarted")
	ErrDistributionEnded           = ErrorKind("DistributionEnded")
	ErrDistributionAlreadyComplete = ErrorKind("DistributionAlreadyComplete")
	ErrDistributionNotComplete     = ErrorKind("DistributionNotComplete")
	ErrTreeNotFound                = ErrorKind("TreeNotFound")
	ErrTreeAlreadyExists           = ErrorKind("TreeAlreadyExists")
)

// Proof errors.
const (
	ErrInvalidProof             = ErrorKind("InvalidProof")
	ErrInvalidGatewayToken      = ErrorKind("InvalidGatewayToken")
	ErrMissingGatekeeperNetwork = ErrorKind("MissingGatekeeperNetwork")
)

// ErrMathError covers counter and fee arithmetic that would overflow.
const ErrMathError = ErrorKind("MathError")

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Category groups kinds for callers that map errors onto transport status codes.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryAuthorization
	CategoryNotFound
	CategoryState
	CategoryProof
	CategoryArithmetic
)

// Category returns the group e belongs to.
func (e ErrorKind) Category() Category {
	switch e {
	case ErrTimestampsNotInFuture, ErrStartTimestampAfterEnd, ErrNoRecipients,
		ErrZeroTransferAmount, ErrBatchIDTooShort, ErrBatchIDTooLong, ErrIndexOutOfBounds,
		ErrMustAcknowledgeIrreversible, ErrInvalidTokenMint, ErrInvalidTokenVault,
		ErrTooManyRecipients:
		return CategoryValidation
	case ErrSignerNotAuthorized:
		return CategoryAuthorization
	case ErrTreeNotFound:
		return CategoryNotFound
	case ErrInvalidDistributionStatus, ErrDistributionNotActive, ErrInsufficientBitmapSpace,
		ErrAlreadyClaimed, ErrClaimsNotAllowed, ErrDistributionNotStarted, ErrDistributionEnded,
		ErrDistributionAlreadyComplete, ErrDistributionNotComplete, ErrTreeAlreadyExists:
		return CategoryState
	case ErrInvalidProof, ErrInvalidGatewayToken, ErrMissingGatekeeperNetwork:
		return CategoryProof
	case ErrMathError:
		return CategoryArithmetic
	}
	return CategoryUnknown
}

// RuleError identifies a violated distribution rule. It carries the kind so callers can use
// errors.Is on the kind while still getting a descriptive message.
type RuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}

// NewRuleError returns a RuleError of the given kind for rules enforced outside this package.
func NewRuleError(kind ErrorKind, desc string) RuleError {
	return ruleError(kind, desc)
}
