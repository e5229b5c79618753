// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts credential bundles at rest. It wraps
// filippo.io/age with a passphrase-based scrypt recipient: the bot
// host keeps one sealed file, the operator keeps one passphrase.
//
// Output is ASCII-armored so sealed bundles survive editors, pastes,
// and version control without corruption.
package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// scryptWorkFactor is the log2 of the scrypt cost parameter used when
// sealing. Unsealing reads the factor from the file header, so raising
// this later leaves existing bundles readable.
var scryptWorkFactor = 18

// Seal encrypts plaintext under the passphrase and returns the armored
// ciphertext.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("sealed: empty passphrase")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(scryptWorkFactor)

	var sealedBuffer bytes.Buffer
	armorWriter := armor.NewWriter(&sealedBuffer)
	encryptWriter, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating age encryptor: %w", err)
	}
	if _, err := encryptWriter.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := encryptWriter.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing armor: %w", err)
	}
	return sealedBuffer.Bytes(), nil
}

// Unseal decrypts an armored bundle produced by Seal. A wrong
// passphrase surfaces as a decryption error, not garbage plaintext.
func Unseal(armored []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(armored)), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}
