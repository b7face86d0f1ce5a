// Package authtoken issues and validates the bearer tokens that carry an
// actor's identity and role grants into the registration core.
package authtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"civreg/internal/rbac"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// Claims are the JWT claims for access tokens. Role grants ride in the token
// so the core never needs a user directory lookup per request.
type Claims struct {
	ActorID         string   `json:"actor_id"`
	PrimaryRole     string   `json:"primary_role"`
	FunctionalRoles []string `json:"functional_roles,omitempty"`
	CitizenID       string   `json:"citizen_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey, issuer, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateAccessToken signs a token carrying the actor snapshot.
func (s *JWTService) GenerateAccessToken(actor rbac.Actor, expiresIn time.Duration) (string, error) {
	roles := make([]string, len(actor.FunctionalRoles))
	for i, role := range actor.FunctionalRoles {
		roles[i] = string(role)
	}
	claims := Claims{
		ActorID:         actor.ID.String(),
		PrimaryRole:     string(actor.PrimaryRole),
		FunctionalRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	}
	if !actor.CitizenID.IsNil() {
		claims.CitizenID = actor.CitizenID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ValidateToken parses and verifies a token and rebuilds the actor snapshot.
func (s *JWTService) ValidateToken(tokenString string) (rbac.Actor, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return s.actorFromClaims(claims)
}

func (s *JWTService) actorFromClaims(claims *Claims) (rbac.Actor, error) {
	actorID, err := id.ParseActorID(claims.ActorID)
	if err != nil {
		return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid actor id in token")
	}

	primary := rbac.PrimaryRole(claims.PrimaryRole)
	if !primary.Valid() {
		return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "unknown primary role in token")
	}

	actor := rbac.Actor{ID: actorID, PrimaryRole: primary}
	for _, raw := range claims.FunctionalRoles {
		role := rbac.FunctionalRole(raw)
		if !role.Valid() {
			return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "unknown functional role in token")
		}
		actor.FunctionalRoles = append(actor.FunctionalRoles, role)
	}
	if claims.CitizenID != "" {
		citizenID, err := id.ParseCitizenID(claims.CitizenID)
		if err != nil {
			return rbac.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid citizen id in token")
		}
		actor.CitizenID = citizenID
	}
	return actor, nil
}
