package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceSubject marks a token that may read every account.
const ServiceSubject = "*"

var ErrInvalidToken = errors.New("invalid token")

// Service issues and verifies HS256 tokens whose subject is a trading account id.
type Service struct {
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(issuer string, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{issuer: issuer, secret: secret, ttl: ttl, now: time.Now}
}

func (s *Service) SignToken(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject required")
	}
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return "", errors.Join(ErrInvalidToken, errors.New("invalid issuer"))
	}
	if claims.Subject == "" {
		return "", errors.Join(ErrInvalidToken, errors.New("invalid subject"))
	}
	return claims.Subject, nil
}

// CanRead reports whether a token subject may read accountID.
func CanRead(subject, accountID string) bool {
	return subject == ServiceSubject || subject == accountID
}
