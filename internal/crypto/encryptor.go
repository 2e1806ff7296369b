/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package crypto

import (
	"errors"

	"github.com/fernet/fernet-go"
)

// Encryptor encrypts OAuth tokens at rest with Fernet symmetric encryption.
// One instance is constructed at process start and injected into whatever
// touches stored tokens.
type Encryptor struct {
	key *fernet.Key
}

func NewEncryptor(base64Key string) (*Encryptor, error) {
	if base64Key == "" { return nil, errors.New("crypto: empty encryption key") }
	key, err := fernet.DecodeKey(base64Key)
	if err != nil { return nil, err }
	return &Encryptor{key: key}, nil
}

func (e *Encryptor) Encrypt(token string) (string, error) {
	out, err := fernet.EncryptAndSign([]byte(token), e.key)
	if err != nil { return "", err }
	return string(out), nil
}

func (e *Encryptor) Decrypt(encToken string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(encToken), 0, []*fernet.Key{e.key})
	if msg == nil { return "", errors.New("crypto: token verification failed") }
	return string(msg), nil
}
