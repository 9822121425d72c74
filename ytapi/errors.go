package ytapi

import (
	"errors"

	"google.golang.org/api/googleapi"
)

// ErrorClass partitions platform API failures into the categories the engine
// reacts to differently.
type ErrorClass int

const (
	// ClassTransient indicates a failure the polling loop logs and rides out.
	ClassTransient ErrorClass = iota
	// ClassQuota indicates the credential's daily quota is spent; recoverable by rotation.
	ClassQuota
	// ClassPermission indicates the engine may not act on this chat; fatal for the session.
	ClassPermission
	// ClassNotFound is a normal negative result (no live broadcast, chat gone).
	ClassNotFound
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ClassQuota:
		return "quota"
	case ClassPermission:
		return "permission"
	case ClassNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

var permissionReasons = map[string]bool{
	"forbidden":               true,
	"liveChatDisabled":        true,
	"liveChatEnded":           true,
	"insufficientPermissions": true,
	"bannedFromChat":          true,
}

// Classify maps an API error onto the engine's failure taxonomy. Quota and
// permission failures both surface as HTTP 403; the reason strings decide.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return ClassTransient
	}
	for _, e := range gerr.Errors {
		if quotaReasons[e.Reason] {
			return ClassQuota
		}
	}
	switch gerr.Code {
	case 404:
		return ClassNotFound
	case 401:
		return ClassPermission
	case 403:
		for _, e := range gerr.Errors {
			if permissionReasons[e.Reason] {
				return ClassPermission
			}
		}
		// 403 without a recognized reason: assume permission, not quota,
		// so a misconfigured credential cannot burn the whole pool.
		return ClassPermission
	}
	return ClassTransient
}

// IsQuotaExceeded reports whether err is a credential-scoped quota failure.
func IsQuotaExceeded(err error) bool { return err != nil && Classify(err) == ClassQuota }

// IsPermissionDenied reports whether err is fatal for the affected session.
func IsPermissionDenied(err error) bool { return err != nil && Classify(err) == ClassPermission }

// IsNotFound reports whether err is a normal negative result.
func IsNotFound(err error) bool { return err != nil && Classify(err) == ClassNotFound }
