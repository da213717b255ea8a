package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"
)

func hs256TestConfig() Config {
	return Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-secret-0123456789abcdef"),
		Issuer:        "factorgate",
	}
}

func TestCreateAndParseSessionToken(t *testing.T) {
	m, err := NewManager(hs256TestConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	factors := map[string]int64{"emailpassword": time.Now().Unix()}
	token, err := m.CreateSessionToken("u-1", "t-1", "sh-1", "ru-1", factors)
	if err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}

	claims, err := m.ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if claims.UID != "u-1" || claims.TID != "t-1" || claims.SH != "sh-1" || claims.RUI != "ru-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ST["emailpassword"] != factors["emailpassword"] {
		t.Fatalf("factor claims mismatch: %v", claims.ST)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	m, err := NewManager(hs256TestConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateSessionToken("u-1", "t-1", "sh-1", "", nil)
	if err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:]
	if _, err := m.ParseSessionToken(tampered); err == nil {
		t.Fatal("expected tampered token rejected")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	m, err := NewManager(hs256TestConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	token, err := m.CreateSessionToken("u-1", "t-1", "sh-1", "", nil)
	if err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}

	other := hs256TestConfig()
	other.PrivateKey = []byte("different-secret-0123456789")
	m2, err := NewManager(other)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := m2.ParseSessionToken(token); err == nil {
		t.Fatal("expected wrong-secret token rejected")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := hs256TestConfig()
	cfg.AccessTTL = time.Nanosecond
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateSessionToken("u-1", "t-1", "sh-1", "", nil)
	if err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseSessionToken(token); err == nil {
		t.Fatal("expected expired token rejected")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	m, err := NewManager(hs256TestConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	token, err := m.CreateSessionToken("u-1", "t-1", "sh-1", "", nil)
	if err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}

	verifier := hs256TestConfig()
	verifier.Issuer = "someone-else"
	m2, err := NewManager(verifier)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := m2.ParseSessionToken(token); err == nil {
		t.Fatal("expected issuer mismatch rejected")
	}
}

func TestEd25519RawKeyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "factorgate",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := m.CreateSessionToken("u-1", "t-1", "sh-1", "ru-1", nil)
	if err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}
	claims, err := m.ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if claims.UID != "u-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{SigningMethod: MethodHS256, PrivateKey: []byte("x")}},
		{"hs256 without key", Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}},
		{"ed25519 without public key", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519}},
		{"unknown method", Config{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("x")}},
		{"excessive leeway", Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("x"), Leeway: time.Hour}},
	}

	for _, tc := range cases {
		if _, err := NewManager(tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
