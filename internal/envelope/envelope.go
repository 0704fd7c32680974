// Package envelope implements the at-rest container for encrypted document
// bytes. The persisted form is base64(JSON{"encrypted_data": base64(ct)});
// the nesting keeps the format extensible while staying safe for a text
// column, and must remain byte-compatible for any reader.
package envelope

import (
	"encoding/base64"
	"encoding/json"

	"github.com/frfusch21/digital-signer-app/internal/errs"
)

type payload struct {
	EncryptedData string `json:"encrypted_data"`
}

// Encode wraps raw ciphertext into the envelope text form.
func Encode(ciphertext []byte) (string, error) {
	body, err := json.Marshal(payload{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", errs.Wrap(errs.KindIntegrity, "failed to marshal envelope", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// Decode unwraps an envelope back to raw ciphertext. A missing
// encrypted_data key is a format error, not a missing document.
func Decode(env string) ([]byte, error) {
	body, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		return nil, errs.Integrity("envelope is not valid base64")
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errs.Integrity("envelope is not valid JSON")
	}
	if p.EncryptedData == "" {
		return nil, errs.Integrity("envelope is missing encrypted_data")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.EncryptedData)
	if err != nil {
		return nil, errs.Integrity("envelope ciphertext is not valid base64")
	}
	return ciphertext, nil
}
