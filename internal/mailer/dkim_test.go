package mailer

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-msgauth/dkim"
)

func TestSigner_SignVerifies(t *testing.T) {
	key, err := GenerateKey(0)
	if err != nil {
		t.Fatal(err)
	}
	signer := NewSigner(key, "agencia.example", "crm")

	record, err := signer.DNSRecord()
	if err != nil {
		t.Fatalf("DNSRecord() error = %v", err)
	}
	if !strings.HasPrefix(record, "v=DKIM1; k=rsa; p=") {
		t.Errorf("DNSRecord() = %q", record)
	}
	if signer.DNSName() != "crm._domainkey.agencia.example" {
		t.Errorf("DNSName() = %q", signer.DNSName())
	}

	msg := &Message{From: "ventas@agencia.example", To: "ana@example.com", Subject: "Hola", HTML: "<p>Hola</p>", Text: "Hola"}
	data, _ := msg.Build(time.Now())

	signed, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Fatal("signed message should start with DKIM-Signature header")
	}

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != signer.DNSName() {
				t.Errorf("lookup for %q, want %q", domain, signer.DNSName())
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("Verify error = %v", err)
	}
	if len(verifications) != 1 || verifications[0].Err != nil {
		t.Fatalf("verification failed: %+v", verifications)
	}
	if verifications[0].Domain != "agencia.example" {
		t.Errorf("verified domain = %q", verifications[0].Domain)
	}
}

func TestLoadPrivateKey(t *testing.T) {
	dir := t.TempDir()
	key, err := GenerateKey(0)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "keys", "crm.pem")
	if err := SavePrivateKey(key, path); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}

	signer, err := NewSignerFromFile(path, "agencia.example", "crm")
	if err != nil {
		t.Fatalf("NewSignerFromFile() error = %v", err)
	}
	if signer.Domain() != "agencia.example" || signer.Selector() != "crm" {
		t.Errorf("signer = %s/%s", signer.Domain(), signer.Selector())
	}

	if _, err := NewSignerFromFile(filepath.Join(dir, "missing.pem"), "agencia.example", "crm"); err == nil {
		t.Error("expected error for missing key file")
	}
}
