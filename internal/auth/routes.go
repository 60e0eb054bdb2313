package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/strefethen/tunegate/internal/api"
	"github.com/strefethen/tunegate/internal/apperrors"
	"github.com/strefethen/tunegate/internal/audit"
	"github.com/strefethen/tunegate/internal/config"
)

// RegisterRoutes wires auth routes to the router.
// sink is optional; when set, completed pairings are recorded.
func RegisterRoutes(router chi.Router, store *PairingStore, cfg config.Config, sink audit.Sink) {
	router.Method(http.MethodPost, "/v1/auth/pair/start", api.Handler(startPairing(store)))
	router.Method(http.MethodPost, "/v1/auth/pair/complete", api.Handler(completePairing(store, cfg, sink)))
	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(refreshToken(cfg)))
}

// startPairing handles POST /v1/auth/pair/start.
// The code is only printed to the server log, never returned to the caller.
func startPairing(store *PairingStore) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		store.CleanupExpired()

		pairCode, err := store.Create(api.GetRequestID(r))
		if err != nil {
			return apperrors.NewInternalError("Failed to generate pairing code")
		}

		log.Printf("Pairing code generated - enter this on your device: %s", pairCode)

		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":       "pairing_start",
			"pairing_hint": "Enter the pairing code printed in the server log",
		})
	}
}

// completePairing handles POST /v1/auth/pair/complete.
func completePairing(store *PairingStore, cfg config.Config, sink audit.Sink) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			PairCode   string `json:"pair_code"`
			DeviceName string `json:"device_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("pair_code is required", nil)
		}
		if body.PairCode == "" {
			return apperrors.NewValidationError("pair_code is required", nil)
		}
		if body.DeviceName == "" {
			return apperrors.NewValidationError("device_name is required", nil)
		}

		if err := store.Redeem(body.PairCode); err != nil {
			if errors.Is(err, ErrPairingExpired) {
				return apperrors.NewUnauthorizedError("Pairing code has expired")
			}
			return apperrors.NewUnauthorizedError("Invalid or expired pairing code")
		}

		device := Device{ID: uuid.NewString(), Name: body.DeviceName}
		tokens, err := IssueTokens(cfg, device)
		if err != nil {
			return apperrors.NewInternalError("Failed to generate token pair")
		}

		if sink != nil {
			sink.Write(audit.LogEntry{
				Origin:    api.ClientOrigin(r, cfg.TrustedProxies),
				Message:   "Paired device '" + body.DeviceName + "'",
				RequestID: api.GetRequestID(r),
				Subject:   device.Subject(),
			})
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_pair",
			"device_id":      device.ID,
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
		})
	}
}

// refreshToken handles POST /v1/auth/refresh.
func refreshToken(cfg config.Config) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}
		if body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := Refresh(cfg, body.RefreshToken)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				return apperrors.NewUnauthorizedError("Refresh token has expired")
			case errors.Is(err, ErrTokenType):
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token")
			default:
				return apperrors.NewUnauthorizedError("Invalid refresh token")
			}
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_refresh",
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}
}
