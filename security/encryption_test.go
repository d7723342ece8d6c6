package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key1) != KeySize {
		t.Errorf("GenerateKey() length = %d, want %d", len(key1), KeySize)
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key1, key2) {
		t.Error("GenerateKey() returned the same key twice")
	}
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name        string
		key         []byte
		wantErr     bool
		wantEnabled bool
	}{
		{"nil key disables", nil, false, false},
		{"empty key disables", []byte{}, false, false},
		{"32 bytes", make([]byte, 32), false, true},
		{"16 bytes", make([]byte, 16), true, false},
		{"64 bytes", make([]byte, 64), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if enc.IsEnabled() != tt.wantEnabled {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnabled)
			}
		})
	}
}

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	return enc
}

func TestEncryptor_SealOpen(t *testing.T) {
	enc := newTestEncryptor(t)
	ad := []byte("oauth2:access:eeb5aa92bbb4b56373b9e0d00bc02d93")

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"record", []byte(`{"client_id":"http://democlient1.com/","username":"demouser1"}`)},
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xff, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Seal(tt.plaintext, ad)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.plaintext) > 0 && bytes.Contains([]byte(sealed), tt.plaintext) {
				t.Error("sealed value contains the plaintext")
			}

			got, err := enc.Open(sealed, ad)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptor_SealIsRandomized(t *testing.T) {
	enc := newTestEncryptor(t)

	a, _ := enc.Seal([]byte("same"), nil)
	b, _ := enc.Seal([]byte("same"), nil)
	if a == b {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	sealed, err := enc.Seal([]byte("plain"), []byte("key"))
	if err != nil || sealed != "plain" {
		t.Errorf("Seal() = %q, %v, want passthrough", sealed, err)
	}
	opened, err := enc.Open("plain", []byte("other"))
	if err != nil || string(opened) != "plain" {
		t.Errorf("Open() = %q, %v, want passthrough", opened, err)
	}
}

func TestEncryptor_OpenRejects(t *testing.T) {
	enc := newTestEncryptor(t)
	ad := []byte("oauth2:code:abc")

	sealed, err := enc.Seal([]byte("secret record"), ad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		encoded string
		ad      []byte
	}{
		{"different associated data", sealed, []byte("oauth2:access:abc")},
		{"missing associated data", sealed, nil},
		{"tampered", tampered, ad},
		{"not base64", "!!!", ad},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short")), ad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Open(tt.encoded, tt.ad); !errors.Is(err, ErrDecrypt) {
				t.Errorf("Open() error = %v, want ErrDecrypt", err)
			}
		})
	}

	t.Run("different key", func(t *testing.T) {
		other := newTestEncryptor(t)
		if _, err := other.Open(sealed, ad); !errors.Is(err, ErrDecrypt) {
			t.Errorf("Open() error = %v, want ErrDecrypt", err)
		}
	})
}

func TestKeyFromBase64(t *testing.T) {
	key, _ := GenerateKey()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", base64.StdEncoding.EncodeToString(key), false},
		{"invalid base64", "not base64!", true},
		{"short key", base64.StdEncoding.EncodeToString(make([]byte, 16)), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeyFromBase64(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("KeyFromBase64() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, key) {
				t.Error("KeyFromBase64() returned a different key")
			}
		})
	}
}
