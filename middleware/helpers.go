package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/golang-jwt/jwt/v4"
)

// Определяем константы для имен JWT claims
const (
	JWTClaimUserID = "user_id"
	JWTClaimRole   = "role"
	JWTClaimName   = "name"
)

func GetUserIDFromContext(ctx context.Context) (int, error) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return 0, errors.New("user claims not found in context or invalid type")
	}

	userIDClaim, ok := claims[JWTClaimUserID]
	if !ok {
		return 0, fmt.Errorf("missing '%s' claim in token", JWTClaimUserID)
	}

	var userID int
	switch v := userIDClaim.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("'%s' claim is not an integer: %f", JWTClaimUserID, v)
		}
		userID = int(v)
	case int:
		userID = v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s' claim: %w", JWTClaimUserID, err)
		}
		userID = n
	default:
		return 0, fmt.Errorf("invalid type for '%s' claim: expected number or string, got %T", JWTClaimUserID, userIDClaim)
	}

	if userID <= 0 {
		return 0, fmt.Errorf("invalid user ID value in '%s' claim: %d", JWTClaimUserID, userID)
	}
	return userID, nil
}

func GetUserRoleFromContext(ctx context.Context) (models.UserRole, error) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return "", errors.New("user claims not found in context or invalid type")
	}

	roleClaim, ok := claims[JWTClaimRole]
	if !ok {
		return "", fmt.Errorf("missing '%s' claim in token", JWTClaimRole)
	}

	roleStr, ok := roleClaim.(string)
	if !ok {
		return "", fmt.Errorf("invalid type for '%s' claim: expected string, got %T", JWTClaimRole, roleClaim)
	}

	role := models.UserRole(roleStr)
	if !role.Valid() {
		return "", fmt.Errorf("invalid role value in claim: %q", roleStr)
	}
	return role, nil
}

// GetIdentityFromContext собирает models.Identity из claims токена.
func GetIdentityFromContext(ctx context.Context) (models.Identity, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return models.Identity{}, err
	}
	role, err := GetUserRoleFromContext(ctx)
	if err != nil {
		return models.Identity{}, err
	}
	identity := models.Identity{ID: userID, Role: role}
	if claims, ok := ctx.Value(userContextKey).(jwt.MapClaims); ok {
		if name, ok := claims[JWTClaimName].(string); ok {
			identity.DisplayName = name
		}
	}
	if identity.DisplayName == "" {
		identity.DisplayName = "User " + strconv.Itoa(userID)
	}
	return identity, nil
}
