package auth

import (
	"errors"

	_ "embed"

	"github.com/confsync/confsync/internal/utils"
)

//go:embed authmail.html.tmpl
var emailTemplate string

var (
	ErrInvalidEmail        = utils.ErrEmailInvalid
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRequestToken = errors.New("invalid request token")
)
