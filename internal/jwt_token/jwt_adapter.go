package jwttoken

import (
	id "trustdesk/pkg/domain"
	authmw "trustdesk/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes the service through the middleware's validator port.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.ReviewerClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.ReviewerClaims{
		ReviewerID: id.SubmitterID(claims.ReviewerID),
		TokenID:    claims.ID,
	}, nil
}
