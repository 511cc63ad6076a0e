package auth

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSkew       = 1
	totpSecretSize = 20
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTP generates shared secrets and checks RFC 6238 codes: SHA1, 6 digits,
// 30 second steps, accepting one step of clock skew either way.
type TOTP struct {
	issuer string
}

func NewTOTP(issuer string) *TOTP {
	return &TOTP{issuer: issuer}
}

func (t *TOTP) Issuer() string { return t.issuer }

// GenerateSecret returns a new random base32 secret.
func (t *TOTP) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: t.issuer,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth:// URI authenticator apps enroll from.
// The result depends only on the arguments.
func (t *TOTP) ProvisioningURI(secret, accountLabel, issuer string) (string, error) {
	raw, err := totpEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountLabel,
		Period:      totpPeriod,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// Verify reports whether code is valid for secret at the given time.
func (t *TOTP) Verify(secret, code string, at time.Time) bool {
	if secret == "" || len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), validateOpts())
	return err == nil && ok
}

// CodeAt returns the code for secret at time at.
func (t *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), validateOpts())
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
