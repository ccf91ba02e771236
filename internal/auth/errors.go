package auth

import "errors"

var (
	ErrInvalidCredentials         = errors.New("invalid email or password")
	ErrEmailNotVerified           = errors.New("email not verified, please check your inbox")
	ErrEmailRequired              = errors.New("email is required")
	ErrInvalidEmailFormat         = errors.New("invalid email format")
	ErrNameRequired               = errors.New("name is required")
	ErrInvalidRole                = errors.New("role must be student or teacher")
	ErrWeakPassword               = errors.New("password must be at least 6 characters")
	ErrTokenInvalid               = errors.New("invalid token")
	ErrTokenExpired               = errors.New("token has expired")
	ErrInvalidRefreshToken        = errors.New("invalid refresh token")
	ErrAlreadyVerified            = errors.New("email already verified")
	ErrVerificationAlreadyPending = errors.New("a verification email was already sent, please check your inbox")
	ErrEmailDispatchFailed        = errors.New("failed to send email")
)
