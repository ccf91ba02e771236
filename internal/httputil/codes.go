package httputil

// Machine-readable error codes returned in ErrorResponse.Code.
// Clients branch on these, so values must stay stable.
const (
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeNotFound           = "NOT_FOUND"

	// Authentication
	CodeMissingAuth         = "MISSING_AUTH"
	CodeInvalidAuthHeader   = "INVALID_AUTH_HEADER"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"

	// Account state
	CodeDuplicateEmail      = "DUPLICATE_EMAIL"
	CodeWeakPassword        = "WEAK_PASSWORD"
	CodeAlreadyVerified     = "ALREADY_VERIFIED"
	CodeVerificationPending = "VERIFICATION_PENDING"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"

	// External services
	CodeEmailDispatchFailed = "EMAIL_DISPATCH_FAILED"
	CodePaymentGatewayError = "PAYMENT_GATEWAY_ERROR"

	// Ledger, payments and bookings
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodePackageNotFound     = "PACKAGE_NOT_FOUND"
	CodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	CodeTeacherNotFound     = "TEACHER_NOT_FOUND"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
)
