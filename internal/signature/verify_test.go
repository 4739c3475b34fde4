package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	body := []byte(`{"id":1001,"name":"#1001"}`)

	mac := hmac.New(sha256.New, []byte("shpss_secret"))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(body, "shpss_secret"))
}

func TestVerify(t *testing.T) {
	const secret = "shpss_secret"
	body := []byte(`{"id":1001,"email":"luna@example.com","total_price":"42.00"}`)
	valid := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{
			name:      "valid signature",
			body:      body,
			signature: valid,
			secret:    secret,
			want:      true,
		},
		{
			name:      "signature with surrounding whitespace",
			body:      body,
			signature: "  " + valid + "\n",
			secret:    secret,
			want:      true,
		},
		{
			name:      "wrong secret",
			body:      body,
			signature: valid,
			secret:    "other",
			want:      false,
		},
		{
			name:      "missing signature",
			body:      body,
			signature: "",
			secret:    secret,
			want:      false,
		},
		{
			name:      "empty secret fails closed",
			body:      body,
			signature: Sign(body, ""),
			secret:    "",
			want:      false,
		},
		{
			name:      "garbage signature",
			body:      body,
			signature: "not-base64!!",
			secret:    secret,
			want:      false,
		},
		{
			name:      "hex encoded digest is rejected",
			body:      body,
			signature: "6a1f0c",
			secret:    secret,
			want:      false,
		},
		{
			name:      "re-serialized body does not verify",
			body:      []byte(`{"id": 1001, "email": "luna@example.com", "total_price": "42.00"}`),
			signature: valid,
			secret:    secret,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.body, tt.signature, tt.secret))
		})
	}
}

func TestVerify_SingleBitMutations(t *testing.T) {
	const secret = "shpss_secret"
	body := []byte(`{"id":2002,"available":3}`)
	sig := Sign(body, secret)

	assert.True(t, Verify(body, sig, secret))

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			assert.False(t, Verify(mutated, sig, secret), "body byte %d bit %d", i, bit)
		}
	}

	for i := range sig {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(sig)
			mutated[i] ^= 1 << bit
			assert.False(t, Verify(body, string(mutated), secret), "signature byte %d bit %d", i, bit)
		}
	}
}
