package service

import (
	"errors"
	"testing"
	"time"

	"factory_device/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "test-signing-key"

// operatorRepoStub is an in-memory repository.Operators.
type operatorRepoStub struct {
	byName    map[string]*models.Operator
	createErr error
	lookupErr error
	created   []models.Operator
}

func (o *operatorRepoStub) Create(username, hash string) (int, error) {
	if o.createErr != nil {
		return 0, o.createErr
	}
	op := models.Operator{ID: len(o.created) + 1, Username: username, PasswordHash: hash}
	o.created = append(o.created, op)
	if o.byName == nil {
		o.byName = map[string]*models.Operator{}
	}
	o.byName[username] = &op
	return op.ID, nil
}

func (o *operatorRepoStub) GetByUsername(username string) (*models.Operator, error) {
	if o.lookupErr != nil {
		return nil, o.lookupErr
	}
	return o.byName[username], nil
}

// newTestAuth returns an auth service for device "press-1" with a fixed clock.
func newTestAuth(repo *operatorRepoStub, at time.Time) *AuthService {
	svc := NewAuthService(repo, "press-1", testSigningKey, 30*time.Minute)
	svc.now = func() time.Time { return at }
	return svc
}

func TestAuthService_SignUpThenSignIn(t *testing.T) {
	repo := &operatorRepoStub{}
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestAuth(repo, at)

	id, err := svc.SignUp("shift-lead", "furnace-42")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if id != 1 || len(repo.created) != 1 {
		t.Fatalf("unexpected create: id=%d created=%+v", id, repo.created)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(repo.created[0].PasswordHash), []byte("furnace-42")); err != nil {
		t.Fatalf("stored hash does not match the password: %v", err)
	}

	token, err := svc.GenerateToken("shift-lead", "furnace-42")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	if claims.Issuer != "factory-device/press-1" || claims.Subject != "shift-lead" || claims.OperatorID != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(at.Add(30 * time.Minute)) {
		t.Fatalf("expiry = %v, want issue time plus ttl", claims.ExpiresAt.Time)
	}

	opID, err := svc.ParseToken(token)
	if err != nil || opID != 1 {
		t.Fatalf("ParseToken = %d, %v", opID, err)
	}
}

func TestAuthService_SignUpValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "empty username", username: "", password: "furnace-42", wantErr: ErrInvalidUsername},
		{name: "username with space", username: "shift lead", password: "furnace-42", wantErr: ErrInvalidUsername},
		{name: "blank password", username: "op", password: "      ", wantErr: ErrInvalidPassword},
		{name: "short password", username: "op", password: "abc", wantErr: ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &operatorRepoStub{}
			_, err := newTestAuth(repo, time.Now()).SignUp(tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if len(repo.created) != 0 {
				t.Fatalf("invalid operator must not be stored")
			}
		})
	}
}

func TestAuthService_SignUpRepoError(t *testing.T) {
	dbErr := errors.New("UNIQUE constraint failed: operators.username")
	_, err := newTestAuth(&operatorRepoStub{createErr: dbErr}, time.Now()).SignUp("op", "furnace-42")
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestAuthService_GenerateTokenFailures(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("furnace-42"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	known := map[string]*models.Operator{"op": {ID: 3, Username: "op", PasswordHash: string(hash)}}
	lookupErr := errors.New("database is locked")

	tests := []struct {
		name     string
		repo     *operatorRepoStub
		key      string
		username string
		password string
		wantErr  error
	}{
		{name: "unknown operator", repo: &operatorRepoStub{byName: known}, key: testSigningKey, username: "ghost", password: "furnace-42", wantErr: ErrOperatorNotFound},
		{name: "wrong password", repo: &operatorRepoStub{byName: known}, key: testSigningKey, username: "op", password: "furnace-43", wantErr: ErrInvalidPassword},
		{name: "lookup fails", repo: &operatorRepoStub{lookupErr: lookupErr}, key: testSigningKey, username: "op", password: "furnace-42", wantErr: lookupErr},
		{name: "no signing key", repo: &operatorRepoStub{byName: known}, key: "", username: "op", password: "furnace-42", wantErr: ErrNoSigningKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAuthService(tt.repo, "press-1", tt.key, time.Hour)
			if _, err := svc.GenerateToken(tt.username, tt.password); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthService_ParseTokenRejects(t *testing.T) {
	issued := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	sign := func(method jwt.SigningMethod, key any, claims Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, &claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "factory-device/press-1",
				IssuedAt:  jwt.NewNumericDate(issued),
				ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
			},
			OperatorID: 9,
		}
	}
	otherDevice := valid()
	otherDevice.Issuer = "factory-device/press-2"
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	noOperator := valid()
	noOperator.OperatorID = 0

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{name: "malformed", token: "not-a-jwt", at: issued},
		{name: "foreign key", token: sign(jwt.SigningMethodHS256, []byte("other-key"), valid()), at: issued},
		{name: "expired", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), valid()), at: issued.Add(2 * time.Hour)},
		{name: "issued for another device", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), otherDevice), at: issued},
		{name: "missing expiry", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), noExpiry), at: issued},
		{name: "HS512 not accepted", token: sign(jwt.SigningMethodHS512, []byte(testSigningKey), valid()), at: issued},
		{name: "no operator id", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), noOperator), at: issued},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuth(&operatorRepoStub{}, tt.at)
			if _, err := svc.ParseToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		svc := newTestAuth(&operatorRepoStub{}, issued.Add(time.Minute))
		id, err := svc.ParseToken(sign(jwt.SigningMethodHS256, []byte(testSigningKey), valid()))
		if err != nil || id != 9 {
			t.Fatalf("ParseToken = %d, %v", id, err)
		}
	})
}

func TestAuthService_DefaultsAndMissingKey(t *testing.T) {
	svc := NewAuthService(&operatorRepoStub{}, "press-1", "", 0)
	if svc.ttl != defaultTokenTTL {
		t.Fatalf("ttl = %v, want %v", svc.ttl, defaultTokenTTL)
	}
	if _, err := svc.ParseToken("x.y.z"); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
}
