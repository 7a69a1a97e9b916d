package formtoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMakeVerify(t *testing.T) {
	ttl := 3 * 24 * time.Hour
	maker := NewMaker("secret", ttl)
	subject := "admission:0b9c3b52-7d1e-4c39-9d34-2f1f4c1a7e10"

	validToken := maker.Make(subject)

	// generate an expired token
	dayLate := ttl + (24 * time.Hour)
	NowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := maker.Make(subject)
	NowFunc = time.Now // reset

	tests := []struct {
		name    string
		maker   Maker
		subject string
		token   string
		wantErr error
	}{
		{name: "no token", maker: maker, subject: subject, wantErr: ErrInvalidToken},
		{name: "invalid parts len", maker: maker, subject: subject, token: "lmaooolol", wantErr: ErrInvalidToken},
		{name: "invalid base32", maker: maker, subject: subject, token: "hahaha-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "invalid timestamp", maker: maker, subject: subject, token: "NRXWY-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "invalid signature", maker: maker, subject: subject, token: "HE4TS-sigsig-sig", wantErr: ErrInvalidToken},
		{name: "other subject", maker: maker, subject: "admission:other", token: validToken, wantErr: ErrInvalidToken},
		{name: "other secret", maker: NewMaker("other", ttl), subject: subject, token: validToken, wantErr: ErrInvalidToken},
		{name: "expired token", maker: maker, subject: subject, token: expiredToken, wantErr: ErrTokenExpired},
		{name: "valid token", maker: maker, subject: subject, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.maker.Verify(tt.subject, tt.token))
		})
	}
}
