package service

import "fmt"

// FailurePolicy decides what happens to an existing submission whose rebuild failed.
type FailurePolicy string

const (
	// DeleteOnFailure removes the submission, so nothing unbuildable stays registered.
	DeleteOnFailure FailurePolicy = "delete"
	// KeepOnFailure keeps the previous record and marks its status failed.
	// The previous executable is put back, so the kept version still runs.
	KeepOnFailure FailurePolicy = "keep"
)

// ParseFailurePolicy accepts "", "delete" and "keep". Empty means delete.
func ParseFailurePolicy(v string) (FailurePolicy, error) {
	switch FailurePolicy(v) {
	case "", DeleteOnFailure:
		return DeleteOnFailure, nil
	case KeepOnFailure:
		return KeepOnFailure, nil
	}
	return "", fmt.Errorf("unknown update failure policy %q", v)
}
