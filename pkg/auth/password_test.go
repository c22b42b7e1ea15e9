package auth

import "testing"

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	valid := "Str0ng#Password!"
	if err := ValidatePassword(valid); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("short1!A"); err == nil {
		t.Fatalf("expected short password to fail")
	}
	if err := ValidatePassword("alllowercase123!"); err == nil {
		t.Fatalf("expected missing uppercase to fail")
	}
	if err := ValidatePassword("ALLUPPERCASE123!"); err == nil {
		t.Fatalf("expected missing lowercase to fail")
	}
	if err := ValidatePassword("NoDigitsHere!!!"); err == nil {
		t.Fatalf("expected missing digits to fail")
	}
	if err := ValidatePassword("NoSpecials1234"); err == nil {
		t.Fatalf("expected missing special chars to fail")
	}
}

func TestCheckAdminPasswordPlaintext(t *testing.T) {
	const configured = "Str0ng#Password!"
	if !CheckAdminPassword(configured, configured) {
		t.Fatalf("expected matching password to pass")
	}
	if CheckAdminPassword("Str0ng#Password", configured) {
		t.Fatalf("expected prefix to fail")
	}
	if CheckAdminPassword("", configured) {
		t.Fatalf("expected empty attempt to fail")
	}
	if CheckAdminPassword(configured, "") {
		t.Fatalf("expected unconfigured secret to reject everything")
	}
}

func TestCheckAdminPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("Str0ng#Password!")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !IsBcryptHash(hash) {
		t.Fatalf("expected hash to be detected as bcrypt")
	}
	if IsBcryptHash("Str0ng#Password!") {
		t.Fatalf("plaintext must not be detected as bcrypt")
	}
	if !CheckAdminPassword("Str0ng#Password!", hash) {
		t.Fatalf("expected bcrypt admin check to pass")
	}
	if CheckAdminPassword(hash, hash) {
		t.Fatalf("submitting the hash itself must not log in")
	}
}
