package auth

import "time"

// AccessToken 封裝簽發後的存取權杖。
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}
