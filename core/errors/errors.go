package errors

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryInvalidInput      Category = "invalid_input"
	CategoryVerification      Category = "verification_failed"
	CategoryPrecondition      Category = "precondition_failed"
	CategoryDependencyMissing Category = "dependency_missing"
	CategoryIOFailure         Category = "io_failure"
	CategoryStateContention   Category = "state_contention"
	CategoryInternalFailure   Category = "internal_failure"
)

// Codes name every failure kind the pipeline can report. Verification codes are
// also used as Failure codes inside an aggregated verification report.
const (
	CodeMissingArtifact        = "missing_artifact"
	CodeDigestMismatch         = "digest_mismatch"
	CodeMissingSBOM            = "missing_sbom"
	CodeSBOMDigestMismatch     = "sbom_digest_mismatch"
	CodeMissingSigningKey      = "missing_signing_key"
	CodeInvalidSigningKey      = "invalid_signing_key"
	CodeMissingSignature       = "missing_signature"
	CodeSignatureMismatch      = "signature_mismatch"
	CodeGraphResolutionFailure = "dependency_graph_resolution_failure"
	CodeArchiverUnavailable    = "archiver_unavailable"
	CodeSchemaViolation        = "schema_violation"
	CodePreconditionFailed     = "precondition_failed"
	CodeBuildFailed            = "build_failed"
	CodeLedgerWriteFailed      = "ledger_write_failed"
	CodeVerificationFailed     = "verification_failed"
	CodeInvalidConfiguration   = "invalid_configuration"
	CodeManifestExists         = "manifest_exists"
	CodeInternalFailure        = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

func (e *classifiedError) Retryable() bool {
	return e.retryable
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

// New builds a non-retryable classified error from a format string.
func New(category Category, code, hint, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), category, code, hint, false)
}

func MissingSigningKey(format string, args ...any) error {
	return New(CategoryInvalidInput, CodeMissingSigningKey, "set the signing key env var or write a hex key file", format, args...)
}

func InvalidSigningKey(format string, args ...any) error {
	return New(CategoryInvalidInput, CodeInvalidSigningKey, "signing key must be non-empty even-length hex", format, args...)
}

func GraphResolutionFailure(cause error) error {
	return Wrap(cause, CategoryDependencyMissing, CodeGraphResolutionFailure, "check the dependency graph source and root package names", false)
}

func ArchiverUnavailable(format string, args ...any) error {
	return New(CategoryDependencyMissing, CodeArchiverUnavailable, "configure a supported archive codec (gzip or none)", format, args...)
}

func SchemaViolation(cause error) error {
	return Wrap(cause, CategoryInvalidInput, CodeSchemaViolation, "the record on disk does not match its schema; re-run the stage that writes it", false)
}

func PreconditionFailed(format string, args ...any) error {
	return New(CategoryPrecondition, CodePreconditionFailed, "run the earlier pipeline stages first", format, args...)
}

func InvalidConfiguration(format string, args ...any) error {
	return New(CategoryInvalidInput, CodeInvalidConfiguration, "check flags and .attest/config.yaml", format, args...)
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}
