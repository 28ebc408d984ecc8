package auth

import "github.com/dkarpov/studenthub/internal/common"

// sideChannelTokenBytes yields 256 bits of entropy per token, encoded as
// 64 hex characters.
const sideChannelTokenBytes = 32

// NewSideChannelToken generates an opaque random secret for email
// verification and password reset. The issuer is stateless: the token and
// its expiry live on the identity record.
func NewSideChannelToken() (string, error) {
	return common.MakeRandHexString(sideChannelTokenBytes)
}
