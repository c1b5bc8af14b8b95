package retrydlq

import "errors"

var (
	// Construction errors.
	ErrInvalidConfiguration = errors.New("retrydlq: invalid configuration")
	ErrDuplicateServiceName = errors.New("retrydlq: duplicate service name")

	// Lookup errors.
	ErrRecordNotFound = errors.New("retrydlq: dead letter record not found")
	ErrRouteNotFound  = errors.New("retrydlq: no service registered for route")

	// Storage errors.
	ErrRecordAlreadyExists = errors.New("retrydlq: dead letter record already exists")
	ErrStoreNotInitialized = errors.New("retrydlq: dead letter table does not exist")
)
