package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrEmptyToken = errors.New("empty token")

// Token is the decoded credential handed out by the application service.
// The signature is opaque to the client; the controller verifies it.
type Token struct {
	TokenID   string `json:"tokenId"`
	Host      string `json:"host"`
	Secure    bool   `json:"secure"`
	Signature string `json:"signature"`
}

// DecodeToken parses a base64-encoded JSON credential token.
func DecodeToken(raw string) (Token, error) {
	var t Token
	if raw == "" {
		return t, ErrEmptyToken
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return t, fmt.Errorf("token is not valid base64: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("token is not valid json: %w", err)
	}
	return t, nil
}

// EncodeToken is the inverse of DecodeToken, used by test controllers.
func EncodeToken(t Token) string {
	data, _ := json.Marshal(t)
	return base64.StdEncoding.EncodeToString(data)
}
